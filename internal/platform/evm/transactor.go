package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// receiptPollInterval paces the mining wait loop.
const receiptPollInterval = 2 * time.Second

// Transactor signs and submits transactions from the bank's hot wallet and
// waits for them to mine. Sends are serialized so nonces stay monotonic.
type Transactor struct {
	mu      sync.Mutex
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// NewTransactor creates a Transactor for the given hot-wallet key. It
// resolves the chain ID once at construction.
func NewTransactor(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, logger *slog.Logger) (*Transactor, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: resolve chain id: %w", err)
	}
	return &Transactor{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger.With(slog.String("component", "evm_transactor")),
	}, nil
}

// From returns the hot-wallet address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Send signs and submits a transaction to 'to' carrying calldata and value,
// then blocks until it mines. A mined-but-reverted transaction is an error.
func (t *Transactor) Send(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (*types.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: suggest gas price: %w", err)
	}
	gasLimit, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.from,
		To:    &to,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("evm: estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("evm: sign tx: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("evm: send tx: %w", err)
	}

	t.logger.DebugContext(ctx, "transaction submitted",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("evm: transaction %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}

func (t *Transactor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("evm: fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: wait mined %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
