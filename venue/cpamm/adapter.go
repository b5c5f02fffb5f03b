// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cpamm

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/venue"
)

var _ venue.Adapter = (*Adapter)(nil)

// Adapter routes trades into constant-product pools, one pool per pair.
type Adapter struct {
	address common.Address
	ledger  Ledger
	pools   *venue.Pairs[*Pool]
	log     log.Logger
}

// NewAdapter creates an adapter whose pair table is administered by owner
func NewAdapter(address, owner common.Address, ledger Ledger, logger log.Logger) *Adapter {
	return &Adapter{
		address: address,
		ledger:  ledger,
		pools:   venue.NewPairs[*Pool](owner),
		log:     logger,
	}
}

func (a *Adapter) Kind() venue.Kind { return venue.ConstantProduct }

func (a *Adapter) Address() common.Address { return a.address }

// AddPool registers pool for its token pair
func (a *Adapter) AddPool(caller common.Address, pool *Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	return a.pools.Add(caller, pool.Token0, pool.Token1, pool)
}

// RemovePool unregisters the pool for (tokenA, tokenB)
func (a *Adapter) RemovePool(caller, tokenA, tokenB common.Address) error {
	return a.pools.Remove(caller, tokenA, tokenB)
}

// Pool returns the pool serving (tokenA, tokenB)
func (a *Adapter) Pool(tokenA, tokenB common.Address) (*Pool, error) {
	pool, ok := a.pools.Lookup(tokenA, tokenB)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", venue.ErrPoolNotFound, tokenA.Hex(), tokenB.Hex())
	}
	return pool, nil
}

func (a *Adapter) HasPair(_ contract.StateDB, tokenIn, tokenOut common.Address) bool {
	_, ok := a.pools.Lookup(tokenIn, tokenOut)
	return ok
}

func (a *Adapter) QuoteExactInput(state contract.StateDB, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	pool, err := a.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := pool.ReservesFor(state, tokenIn)
	if err != nil {
		return nil, err
	}
	return GetAmountOut(amountIn, reserveIn, reserveOut, pool.Fee)
}

func (a *Adapter) SwapExactInput(ctx *venue.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *uint256.Int) (*uint256.Int, error) {
	pool, err := a.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := pool.ReservesFor(ctx.State, tokenIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := GetAmountOut(amountIn, reserveIn, reserveOut, pool.Fee)
	if err != nil {
		return nil, err
	}
	if amountOut.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: out %s below %s", venue.ErrInsufficientAmount, amountOut, minAmountOut)
	}
	if err := a.swap(ctx, pool, tokenIn, amountIn, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

func (a *Adapter) SwapExactOutput(ctx *venue.Context, tokenIn, tokenOut common.Address, maxAmountIn, amountOut *uint256.Int) (*uint256.Int, error) {
	pool, err := a.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, err := pool.ReservesFor(ctx.State, tokenIn)
	if err != nil {
		return nil, err
	}
	amountIn, err := GetAmountIn(amountOut, reserveIn, reserveOut, pool.Fee)
	if err != nil {
		return nil, err
	}
	if maxAmountIn.Lt(amountIn) {
		return nil, fmt.Errorf("%w: in %s above %s", venue.ErrTooMuchRequested, amountIn, maxAmountIn)
	}
	if err := a.swap(ctx, pool, tokenIn, amountIn, amountOut); err != nil {
		return nil, err
	}
	return amountIn, nil
}

func (a *Adapter) swap(ctx *venue.Context, pool *Pool, tokenIn common.Address, amountIn, amountOut *uint256.Int) error {
	err := a.execute(ctx, pool.Address, tokenIn, amountIn, func(pay PayFunc) error {
		return pool.Swap(ctx.State, a.ledger, tokenIn, amountIn, amountOut, ctx.Recipient, pay)
	})
	if err != nil {
		return err
	}

	a.log.Debug("cpamm swap",
		"pool", pool.Address,
		"tokenIn", tokenIn,
		"amountIn", amountIn,
		"amountOut", amountOut,
	)
	return nil
}

// execute issues the input ticket to the pool at addr and runs trade with a
// pay callback that redeems it. The settler rejects any callback whose caller
// is not addr, and trade must redeem the ticket before it returns.
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
