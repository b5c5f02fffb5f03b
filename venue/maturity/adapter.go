// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package maturity

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/venue"
)

// BpsDenominator is the slippage unit
const BpsDenominator = 10_000

var _ venue.Adapter = (*Adapter)(nil)

// PairConfig binds a PT/SY pair to its market
type PairConfig struct {
	Market      *Market
	SlippageBps uint16 // Tolerance applied to the adapter's own quote
}

// Adapter routes trades into maturity markets. It checks the market phase
// before issuing a ticket, so a rejected direction moves nothing.
type Adapter struct {
	address common.Address
	ledger  Ledger
	markets *venue.Pairs[PairConfig]
	log     log.Logger
}

// NewAdapter creates an adapter whose market table is administered by owner
func NewAdapter(address, owner common.Address, ledger Ledger, logger log.Logger) *Adapter {
	return &Adapter{
		address: address,
		ledger:  ledger,
		markets: venue.NewPairs[PairConfig](owner),
		log:     logger,
	}
}

func (a *Adapter) Kind() venue.Kind { return venue.FixedMaturity }

func (a *Adapter) Address() common.Address { return a.address }

// AddMarket registers cfg for its PT/SY pair
func (a *Adapter) AddMarket(caller common.Address, cfg PairConfig) error {
	if cfg.Market == nil {
		return ErrNilMarket
	}
	if err := cfg.Market.Validate(); err != nil {
		return err
	}
	if cfg.SlippageBps >= BpsDenominator {
		return fmt.Errorf("slippage %d bps", cfg.SlippageBps)
	}
	return a.markets.Add(caller, cfg.Market.PT, cfg.Market.SY, cfg)
}

// RemoveMarket unregisters the market for (pt, sy)
func (a *Adapter) RemoveMarket(caller, pt, sy common.Address) error {
	return a.markets.Remove(caller, pt, sy)
}

func (a *Adapter) config(tokenIn, tokenOut common.Address) (PairConfig, error) {
	cfg, ok := a.markets.Lookup(tokenIn, tokenOut)
	if !ok {
		return PairConfig{}, fmt.Errorf("%w: %s/%s", venue.ErrUnknownPool, tokenIn.Hex(), tokenOut.Hex())
	}
	return cfg, nil
}

func (a *Adapter) HasPair(_ contract.StateDB, tokenIn, tokenOut common.Address) bool {
	_, ok := a.markets.Lookup(tokenIn, tokenOut)
	return ok
}

func (a *Adapter) QuoteExactInput(state contract.StateDB, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	cfg, err := a.config(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return cfg.Market.QuoteExactInput(state, tokenIn, tokenOut, amountIn)
}

func (a *Adapter) SwapExactInput(ctx *venue.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *uint256.Int) (*uint256.Int, error) {
	cfg, err := a.config(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	quote, err := cfg.Market.QuoteExactInput(ctx.State, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	if quote.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: out %s below %s", venue.ErrInsufficientAmount, quote, minAmountOut)
	}

	// The market floor is the tighter of the caller's bound and our own
	// slippage tolerance around the quote.
	floor, _ := new(uint256.Int).MulDivOverflow(
		quote,
		uint256.NewInt(BpsDenominator-uint64(cfg.SlippageBps)),
		uint256.NewInt(BpsDenominator),
	)
	if floor.Lt(minAmountOut) {
		floor = minAmountOut
	}

	m := cfg.Market
	var out *uint256.Int
	err = a.execute(ctx, m.Address, tokenIn, amountIn, func(pay PayFunc) error {
		out, err = m.SwapExactInput(ctx.State, a.ledger, tokenIn, tokenOut, amountIn, floor, ctx.Recipient, pay)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logSwap(ctx, m, tokenIn, amountIn, out)
	return out, nil
}

func (a *Adapter) SwapExactOutput(ctx *venue.Context, tokenIn, tokenOut common.Address, maxAmountIn, amountOut *uint256.Int) (*uint256.Int, error) {
	cfg, err := a.config(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	amountIn, err := cfg.Market.QuoteExactOutput(ctx.State, tokenIn, tokenOut, amountOut)
	if err != nil {
		return nil, err
	}

	limit, overflow := new(uint256.Int).MulDivOverflow(
		amountIn,
		uint256.NewInt(BpsDenominator+uint64(cfg.SlippageBps)),
		uint256.NewInt(BpsDenominator),
	)
	if overflow || maxAmountIn.Lt(limit) {
		limit = maxAmountIn
	}
	if limit.Lt(amountIn) {
		return nil, fmt.Errorf("%w: in %s above %s", venue.ErrTooMuchRequested, amountIn, limit)
	}

	m := cfg.Market
	err = a.execute(ctx, m.Address, tokenIn, amountIn, func(pay PayFunc) error {
		_, err := m.SwapExactOutput(ctx.State, a.ledger, tokenIn, tokenOut, amountOut, amountIn, ctx.Recipient, pay)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logSwap(ctx, m, tokenIn, amountIn, amountOut)
	return amountIn, nil
}

// execute issues the input ticket to the market at addr and runs trade with
// a pay callback that redeems it. The settler rejects any callback whose
// caller is not addr, and trade must redeem the ticket before it returns.
func (a *Adapter) execute(ctx *venue.Context, addr, tokenIn common.Address, amountIn *uint256.Int, trade func(PayFunc) error) error {
	ticket := ctx.Settler.Issue(addr, ctx.Payer, tokenIn, amountIn)
	pay := func(caller, token common.Address, amount *uint256.Int) error {
		return ctx.Settler.Redeem(ctx.State, caller, ticket, token, amount)
	}

	if err := trade(pay); err != nil {
		return err
	}
	if !ticket.Redeemed() {
		return venue.ErrSettlementMissing
	}
	return nil
}

func (a *Adapter) logSwap(ctx *venue.Context, m *Market, tokenIn common.Address, amountIn, amountOut *uint256.Int) {
	a.log.Debug("maturity swap",
		"market", m.Address,
		"phase", m.Phase(ctx.State).String(),
		"tokenIn", tokenIn,
		"amountIn", amountIn,
		"amountOut", amountOut,
	)
}
