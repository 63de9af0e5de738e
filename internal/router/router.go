// Package router converts arbitrary supported assets into the settlement
// unit through an external exchange, with a two-tier path fallback and
// pre-execution slippage validation.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

const (
	// MaxSlippageBps bounds the relative shortfall between a quote and the
	// caller's minimum acceptable output.
	MaxSlippageBps = 300
	bpsDenominator = 10_000

	// ExecutionDeadline bounds how far in the future a pending conversion
	// may still be executed by the exchange.
	ExecutionDeadline = 5 * time.Minute
)

// Tagged attempt outcomes. Slippage violations are deliberately not among
// them: they are caller errors and abort the conversion instead of
// triggering the fallback path.
var (
	errNoQuote    = errors.New("no quote obtainable")
	errExecFailed = errors.New("execution failed")
)

// Router performs asset → settlement conversions. Path A routes through
// the canonical intermediary; Path B is the direct pair.
type Router struct {
	exchange      domain.Exchange
	tokens        domain.TokenClient
	settlement    common.Address
	intermediary  common.Address
	wrappedNative common.Address // trades in place of the reserved native identifier
	vault         common.Address // custody account whose balance delta is the realized output
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Router.
func New(exchange domain.Exchange, tokens domain.TokenClient, settlement, intermediary, wrappedNative, vault common.Address, logger *slog.Logger) *Router {
	return &Router{
		exchange:      exchange,
		tokens:        tokens,
		settlement:    settlement,
		intermediary:  intermediary,
		wrappedNative: wrappedNative,
		vault:         vault,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "router")),
	}
}

// swapAsset resolves the reserved native identifier to the wrapped
// contract; exchange pairs only exist for the wrapped form.
func (r *Router) swapAsset(asset common.Address) common.Address {
	if asset == domain.NativeAsset && r.wrappedNative != (common.Address{}) {
		return r.wrappedNative
	}
	return asset
}

// Convert turns amount of asset into settlement units, honoring the
// caller's minOut. It returns the realized output measured as the vault's
// settlement balance delta, never the exchange's self-reported amount,
// together with the path that produced it.
//
// A minOut of zero (or nil) means "accept the quote at the maximum
// slippage bound": the effective minimum is derived from the expected
// output instead of being validated against it.
func (r *Router) Convert(ctx context.Context, asset common.Address, amount, minOut *big.Int) (*big.Int, domain.SwapPathKind, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.PathNone, domain.ErrZeroAmount
	}

	hop := r.swapAsset(asset)

	// Identity conversion: the asset already is the settlement unit.
	if hop == r.settlement {
		if minOut != nil && minOut.Cmp(amount) > 0 {
			return nil, domain.PathNone, fmt.Errorf("router: minimum output %s exceeds amount %s: %w",
				minOut, amount, domain.ErrSlippageTooHigh)
		}
		return new(big.Int).Set(amount), domain.PathIdentity, nil
	}

	var pathErrs []error

	// Path A: asset -> intermediary -> settlement. Skipped when the asset
	// is the intermediary itself, which would collapse to the direct pair.
	if hop != r.intermediary {
		pathA := []common.Address{hop, r.intermediary, r.settlement}
		out, err := r.attempt(ctx, pathA, amount, minOut)
		switch {
		case err == nil:
			return out, domain.PathIntermediary, nil
		case errors.Is(err, errNoQuote), errors.Is(err, errExecFailed):
			r.logger.WarnContext(ctx, "intermediary path failed, trying direct pair",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
			pathErrs = append(pathErrs, err)
		default:
			return nil, domain.PathNone, err
		}
	}

	// Path B: the direct pair.
	pathB := []common.Address{hop, r.settlement}
	out, err := r.attempt(ctx, pathB, amount, minOut)
	switch {
	case err == nil:
		return out, domain.PathDirect, nil
	case errors.Is(err, errNoQuote), errors.Is(err, errExecFailed):
		pathErrs = append(pathErrs, err)
		return nil, domain.PathNone, fmt.Errorf("router: all paths exhausted (%s): %w",
			errors.Join(pathErrs...), domain.ErrSwapFailed)
	default:
		return nil, domain.PathNone, err
	}
}

// attempt quotes the path, validates slippage against the quote, and
// executes. It returns errNoQuote or errExecFailed for fallback-eligible
// failures; every other error is fatal to the conversion.
func (r *Router) attempt(ctx context.Context, path []common.Address, amount, minOut *big.Int) (*big.Int, error) {
	amounts, err := r.exchange.Quote(ctx, path, amount)
	if err != nil || len(amounts) == 0 {
		return nil, fmt.Errorf("%w: quote %s: %v", errNoQuote, pathString(path), err)
	}
	expected := amounts[len(amounts)-1]
	if expected == nil || expected.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero expected output on %s", errNoQuote, pathString(path))
	}

	effectiveMin, err := r.validateSlippage(expected, minOut)
	if err != nil {
		return nil, err
	}

	// Measure the settlement balance around the exchange call; routes may
	// report fictitious amounts, the delta is what actually arrived.
	before, err := r.tokens.BalanceOf(ctx, r.settlement, r.vault)
	if err != nil {
		return nil, fmt.Errorf("%w: read balance before swap: %v", errExecFailed, err)
	}

	deadline := r.now().Add(ExecutionDeadline)
	if _, err := r.exchange.ExecuteSwap(ctx, path, amount, effectiveMin, deadline); err != nil {
		return nil, fmt.Errorf("%w: execute %s: %v", errExecFailed, pathString(path), err)
	}

	after, err := r.tokens.BalanceOf(ctx, r.settlement, r.vault)
	if err != nil {
		return nil, fmt.Errorf("%w: read balance after swap: %v", errExecFailed, err)
	}

	realized := new(big.Int).Sub(after, before)
	if realized.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no settlement output measured on %s", errExecFailed, pathString(path))
	}
	return realized, nil
}

// validateSlippage checks the caller's minOut against the quoted expected
// output before execution and returns the minimum the exchange must
// enforce at execution time. A zero minOut derives the minimum from the
// quote at the maximum slippage bound.
func (r *Router) validateSlippage(expected, minOut *big.Int) (*big.Int, error) {
	if minOut == nil || minOut.Sign() == 0 {
		derived := new(big.Int).Mul(expected, big.NewInt(bpsDenominator-MaxSlippageBps))
		return derived.Div(derived, big.NewInt(bpsDenominator)), nil
	}
	if minOut.Cmp(expected) > 0 {
		return nil, fmt.Errorf("router: minimum output %s exceeds expected %s: %w",
			minOut, expected, domain.ErrSlippageTooHigh)
	}
	// (expected - minOut) / expected must not exceed MaxSlippageBps.
	shortfall := new(big.Int).Sub(expected, minOut)
	shortfall.Mul(shortfall, big.NewInt(bpsDenominator))
	bound := new(big.Int).Mul(expected, big.NewInt(MaxSlippageBps))
	if shortfall.Cmp(bound) > 0 {
		return nil, fmt.Errorf("router: shortfall vs expected %s exceeds %d bps: %w",
			expected, MaxSlippageBps, domain.ErrSlippageTooHigh)
	}
	return new(big.Int).Set(minOut), nil
}

// Estimate mirrors Convert's quote logic without executing, so callers can
// pre-compute a safe minimum output.
func (r *Router) Estimate(ctx context.Context, asset common.Address, amount *big.Int) (*domain.SwapQuote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrZeroAmount
	}
	hop := r.swapAsset(asset)

	if hop == r.settlement {
		return &domain.SwapQuote{
			Path:     []common.Address{hop},
			Kind:     domain.PathIdentity,
			Expected: new(big.Int).Set(amount),
		}, nil
	}

	if hop != r.intermediary {
		pathA := []common.Address{hop, r.intermediary, r.settlement}
		if amounts, err := r.exchange.Quote(ctx, pathA, amount); err == nil && len(amounts) > 0 && amounts[len(amounts)-1].Sign() > 0 {
			return &domain.SwapQuote{
				Path:     pathA,
				Kind:     domain.PathIntermediary,
				Expected: new(big.Int).Set(amounts[len(amounts)-1]),
			}, nil
		}
	}

	pathB := []common.Address{hop, r.settlement}
	amounts, err := r.exchange.Quote(ctx, pathB, amount)
	if err != nil || len(amounts) == 0 || amounts[len(amounts)-1].Sign() <= 0 {
		return nil, fmt.Errorf("router: no path quotable for %s: %w", asset.Hex(), domain.ErrSwapFailed)
	}
	return &domain.SwapQuote{
		Path:     pathB,
		Kind:     domain.PathDirect,
		Expected: new(big.Int).Set(amounts[len(amounts)-1]),
	}, nil
}

func pathString(path []common.Address) string {
	s := ""
	for i, hop := range path {
		if i > 0 {
			s += "->"
		}
		s += hop.Hex()
	}
	return s
}
