// Package service contains the deposit and withdrawal pipelines plus the
// supporting operations exposed over the API. All ledger mutation funnels
// through BankService under a single lock.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/ledger"
	"github.com/settleio/settlebank/internal/oracle"
	"github.com/settleio/settlebank/internal/registry"
	"github.com/settleio/settlebank/internal/risk"
	"github.com/settleio/settlebank/internal/router"
)

// Notifier is the slice of the notification system the pipelines use.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// BankService orchestrates the registry, oracle, router, risk manager, and
// ledger into the two user-facing pipelines. Each pipeline invocation runs
// to a terminal state under one mutex: no partial interleaving of two
// operations is observable, which makes the cap check linearizable.
type BankService struct {
	mu sync.Mutex

	registry *registry.Registry
	oracle   *oracle.Adapter
	router   *router.Router
	risk     *risk.Manager
	ledger   *ledger.Ledger
	tokens   domain.TokenClient

	transfers domain.TransferStore // optional
	audit     domain.AuditStore    // optional
	bus       domain.SignalBus     // optional
	notifier  Notifier             // optional

	halted atomic.Bool
	now    func() time.Time
	logger *slog.Logger
}

// Deps bundles the BankService dependencies. Transfers, Audit, Bus, and
// Notifier may be nil; the pipelines then skip the corresponding side
// effects.
type Deps struct {
	Registry  *registry.Registry
	Oracle    *oracle.Adapter
	Router    *router.Router
	Risk      *risk.Manager
	Ledger    *ledger.Ledger
	Tokens    domain.TokenClient
	Transfers domain.TransferStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  Notifier
}

// NewBankService creates a BankService.
func NewBankService(d Deps, logger *slog.Logger) *BankService {
	return &BankService{
		registry:  d.Registry,
		oracle:    d.Oracle,
		router:    d.Router,
		risk:      d.Risk,
		ledger:    d.Ledger,
		tokens:    d.Tokens,
		transfers: d.Transfers,
		audit:     d.Audit,
		bus:       d.Bus,
		notifier:  d.Notifier,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "bank")),
	}
}

// Deposit converts amount of asset into settlement units and credits the
// user. Any failure aborts with the ledger, counters, and registry
// unchanged; custody already pulled in by the transfer step is not
// reversed here (surrounding reconciliation owns that).
func (s *BankService) Deposit(ctx context.Context, user, asset common.Address, amount, minOut *big.Int) (*domain.TransferRecord, error) {
	if s.halted.Load() {
		return nil, domain.ErrHalted
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.registry.Get(asset)
	if err != nil {
		return nil, err
	}
	if cfg.DepositLimit.Sign() > 0 && amount.Cmp(cfg.DepositLimit) > 0 {
		return nil, fmt.Errorf("bank: %s deposit of %s over limit %s: %w",
			cfg.Symbol, amount, cfg.DepositLimit, domain.ErrExceedsDepositLimit)
	}

	// Pull custody in before converting; a later failure leaves the funds
	// with the vault and is surfaced through the audit log.
	if err := s.tokens.TransferIn(ctx, asset, user, amount); err != nil {
		return nil, fmt.Errorf("bank: transfer in %s of %s: %w", amount, cfg.Symbol, err)
	}

	if asset != s.registry.Settlement() {
		if err := s.oracle.RefreshPrice(ctx, asset); err != nil {
			s.auditFailure(ctx, "deposit_failed", user, asset, amount, err)
			return nil, err
		}
		// A silently failed fetch keeps the previous snapshot; the deposit
		// still must not proceed on a stale one.
		if cfg.HasPriceFeed() {
			refreshed, err := s.registry.Get(asset)
			if err != nil {
				return nil, err
			}
			if !refreshed.PriceFresh(s.now(), oracle.StaleThreshold) {
				err := fmt.Errorf("bank: no fresh price for %s: %w", cfg.Symbol, domain.ErrStalePrice)
				s.auditFailure(ctx, "deposit_failed", user, asset, amount, err)
				return nil, err
			}
		}
	}

	settled, path, err := s.router.Convert(ctx, asset, amount, minOut)
	if err != nil {
		s.auditFailure(ctx, "deposit_failed", user, asset, amount, err)
		s.notify(ctx, "swap_failed", "Deposit conversion failed",
			fmt.Sprintf("user %s asset %s amount %s: %v", user.Hex(), cfg.Symbol, amount, err))
		return nil, err
	}

	if s.ledger.WouldExceedCap(settled) {
		s.auditFailure(ctx, "deposit_failed", user, asset, amount, domain.ErrExceedsBankCap)
		return nil, fmt.Errorf("bank: crediting %s would exceed cap %s: %w",
			settled, s.ledger.Cap(), domain.ErrExceedsBankCap)
	}

	if err := s.risk.CheckAndAccrueDeposit(user, settled); err != nil {
		s.auditFailure(ctx, "deposit_failed", user, asset, amount, err)
		return nil, err
	}
	if err := s.ledger.Credit(user, settled); err != nil {
		// Unreachable after the pre-checks above; surfaced defensively.
		return nil, fmt.Errorf("bank: credit: %w", err)
	}

	rec := &domain.TransferRecord{
		ID:            uuid.New().String(),
		Kind:          domain.TransferDeposit,
		User:          user,
		Asset:         asset,
		RawAmount:     new(big.Int).Set(amount),
		SettledAmount: settled,
		Path:          path,
		CreatedAt:     s.now(),
	}
	s.finishTransfer(ctx, rec)

	s.logger.InfoContext(ctx, "deposit credited",
		slog.String("user", user.Hex()),
		slog.String("asset", cfg.Symbol),
		slog.String("raw_amount", amount.String()),
		slog.String("settled_amount", settled.String()),
		slog.String("path", string(path)),
	)
	return rec, nil
}

// Withdraw debits amount settlement units from the user and pays out the
// settlement asset. All checks run before the external transfer; state is
// only mutated after the transfer succeeds, so a failure anywhere leaves
// the ledger and counters untouched.
func (s *BankService) Withdraw(ctx context.Context, user common.Address, amount *big.Int) (*domain.TransferRecord, error) {
	if s.halted.Load() {
		return nil, domain.ErrHalted
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settlement := s.registry.Settlement()
	if s.ledger.Balance(user).Cmp(amount) < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	cfg, err := s.registry.Get(settlement)
	if err != nil {
		return nil, err
	}
	if cfg.WithdrawalLimit.Sign() > 0 && amount.Cmp(cfg.WithdrawalLimit) > 0 {
		return nil, fmt.Errorf("bank: withdrawal of %s over limit %s: %w",
			amount, cfg.WithdrawalLimit, domain.ErrExceedsWithdrawalLimit)
	}
	if err := s.risk.CheckWithdrawal(user, amount); err != nil {
		return nil, err
	}

	if err := s.tokens.TransferOut(ctx, settlement, user, amount); err != nil {
		s.auditFailure(ctx, "withdrawal_failed", user, settlement, amount, err)
		return nil, fmt.Errorf("bank: transfer out %s: %w", amount, err)
	}

	// Checks passed under the lock; commit both mutations together.
	s.risk.AccrueWithdrawal(user, amount)
	if err := s.ledger.Debit(user, amount); err != nil {
		return nil, fmt.Errorf("bank: debit: %w", err)
	}

	rec := &domain.TransferRecord{
		ID:            uuid.New().String(),
		Kind:          domain.TransferWithdrawal,
		User:          user,
		Asset:         settlement,
		RawAmount:     new(big.Int).Set(amount),
		SettledAmount: new(big.Int).Set(amount),
		Path:          domain.PathNone,
		CreatedAt:     s.now(),
	}
	s.finishTransfer(ctx, rec)

	s.logger.InfoContext(ctx, "withdrawal settled",
		slog.String("user", user.Hex()),
		slog.String("amount", amount.String()),
	)
	return rec, nil
}

// EstimateOutput mirrors the router's quote logic without executing, so
// callers can pre-compute a safe minimum output for Deposit.
func (s *BankService) EstimateOutput(ctx context.Context, asset common.Address, amount *big.Int) (*domain.SwapQuote, error) {
	if !s.registry.IsSupported(asset) {
		return nil, domain.ErrTokenNotSupported
	}
	return s.router.Estimate(ctx, asset, amount)
}

// RegisterToken registers a new asset and, when a feed was supplied,
// immediately attempts a best-effort price refresh.
func (s *BankService) RegisterToken(ctx context.Context, asset common.Address, withdrawalLimit, depositLimit *big.Int, feed common.Address) (*domain.TokenConfig, error) {
	cfg, err := s.registry.Register(ctx, asset, withdrawalLimit, depositLimit, feed)
	if err != nil {
		return nil, err
	}
	if cfg.HasPriceFeed() {
		if err := s.oracle.RefreshPrice(ctx, asset); err != nil {
			s.logger.WarnContext(ctx, "initial price refresh failed",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditEvent(ctx, "token_registered", map[string]any{
		"asset":            asset.Hex(),
		"symbol":           cfg.Symbol,
		"withdrawal_limit": cfg.WithdrawalLimit.String(),
		"deposit_limit":    cfg.DepositLimit.String(),
		"feed":             feed.Hex(),
	})
	return cfg, nil
}

// UpdateTokenLimits overwrites an asset's per-operation ceilings.
func (s *BankService) UpdateTokenLimits(ctx context.Context, asset common.Address, withdrawalLimit, depositLimit *big.Int) error {
	if err := s.registry.UpdateLimits(ctx, asset, withdrawalLimit, depositLimit); err != nil {
		return err
	}
	s.auditEvent(ctx, "token_limits_updated", map[string]any{
		"asset":            asset.Hex(),
		"withdrawal_limit": withdrawalLimit.String(),
		"deposit_limit":    depositLimit.String(),
	})
	return nil
}

// Halt refuses new pipeline invocations until Resume. In-flight operations
// run to their terminal state.
func (s *BankService) Halt(ctx context.Context) {
	if s.halted.Swap(true) {
		return
	}
	s.logger.WarnContext(ctx, "pipelines halted")
	s.auditEvent(ctx, "halted", nil)
	s.publish(ctx, "status", map[string]any{"event": "halted", "timestamp": s.now().UTC().Format(time.RFC3339)})
	s.notify(ctx, "halt", "Bank halted", "deposit and withdrawal pipelines are refusing new requests")
}

// Resume lifts a halt.
func (s *BankService) Resume(ctx context.Context) {
	if !s.halted.Swap(false) {
		return
	}
	s.logger.InfoContext(ctx, "pipelines resumed")
	s.auditEvent(ctx, "resumed", nil)
	s.publish(ctx, "status", map[string]any{"event": "resumed", "timestamp": s.now().UTC().Format(time.RFC3339)})
}

// Halted reports whether the pipelines are refusing new invocations.
func (s *BankService) Halted() bool {
	return s.halted.Load()
}

// Balance returns the user's settlement balance.
func (s *BankService) Balance(user common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Balance(user)
}

// Totals returns the aggregate balance and the global cap.
func (s *BankService) Totals() (total, cap *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Total(), s.ledger.Cap()
}

// DailyStatus returns the user's effective daily counters and quotas.
func (s *BankService) DailyStatus(user common.Address) domain.DailyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk.DailyStatus(user)
}

// Tokens returns every known token configuration.
func (s *BankService) Tokens() []*domain.TokenConfig {
	return s.registry.List()
}

// Token returns the configuration for a single asset.
func (s *BankService) Token(asset common.Address) (*domain.TokenConfig, error) {
	return s.registry.Get(asset)
}

// USDValue prices an asset amount in 18-decimal USD fixed point from the
// cached oracle snapshot.
func (s *BankService) USDValue(asset common.Address, amount *big.Int) (*big.Int, error) {
	return s.oracle.USDValue(asset, amount)
}

// finishTransfer records the completed operation: persists the record,
// appends an audit row, and publishes a bus event. All three are
// best-effort observability; the ledger mutation already happened.
func (s *BankService) finishTransfer(ctx context.Context, rec *domain.TransferRecord) {
	if s.transfers != nil {
		if err := s.transfers.Insert(ctx, *rec); err != nil {
			s.logger.ErrorContext(ctx, "transfer record insert failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditEvent(ctx, string(rec.Kind), map[string]any{
		"id":             rec.ID,
		"user":           rec.User.Hex(),
		"asset":          rec.Asset.Hex(),
		"raw_amount":     rec.RawAmount.String(),
		"settled_amount": rec.SettledAmount.String(),
		"path":           string(rec.Path),
	})
	event := map[string]any{
		"event":          string(rec.Kind),
		"id":             rec.ID,
		"user":           rec.User.Hex(),
		"asset":          rec.Asset.Hex(),
		"raw_amount":     rec.RawAmount.String(),
		"settled_amount": rec.SettledAmount.String(),
		"path":           string(rec.Path),
		"timestamp":      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	s.publish(ctx, "transfers", event)
	s.appendStream(ctx, "transfers", event)
}

func (s *BankService) auditFailure(ctx context.Context, event string, user, asset common.Address, amount *big.Int, cause error) {
	s.auditEvent(ctx, event, map[string]any{
		"user":   user.Hex(),
		"asset":  asset.Hex(),
		"amount": amount.String(),
		"error":  cause.Error(),
	})
}

func (s *BankService) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BankService) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, data); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// appendStream records the event on a durable stream so late subscribers
// can replay it; live delivery went out via publish.
func (s *BankService) appendStream(ctx context.Context, stream string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := s.bus.StreamAppend(ctx, stream, data); err != nil {
		s.logger.WarnContext(ctx, "event stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BankService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
