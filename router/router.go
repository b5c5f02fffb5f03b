// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router executes split-route swaps across registered venues.
//
// A route names up to fifteen legs, each a venue id and a weight. The router
// splits the trade across the legs, calls each venue's adapter with the
// caller as payer and recipient, and checks the caller's aggregate bound.
// Payment is pulled from the caller only when a venue redeems its ticket,
// so the router itself never holds a balance.
package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/route"
	"github.com/luxfi/swaprouter/settlement"
	"github.com/luxfi/swaprouter/venue"
)

var (
	ErrUnknownVenue = errors.New("unknown venue")
	ErrReentrant    = errors.New("reentrancy detected")
	ErrOverflow     = errors.New("amount overflow")

	// ErrUnauthorized is returned by admin calls from anyone but the owner
	ErrUnauthorized = venue.ErrUnauthorized
)

// Router is the split-route dispatcher
type Router struct {
	// mu guards locked
	mu sync.Mutex

	// locked is set while a request is in flight
	locked bool

	cfg     Config
	settler *settlement.Settler
	venues  *venue.Registry
	log     log.Logger
}

// New creates a router pulling payments through ledger.
// Payers approve cfg.Address on the ledger.
func New(cfg Config, ledger settlement.Ledger, logger log.Logger) (*Router, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return &Router{
		cfg:     cfg,
		settler: settlement.NewSettler(ledger, cfg.Address),
		venues:  venue.NewRegistry(cfg.Owner),
		log:     logger,
	}, nil
}

// Address is the router's account, the spender payers approve
func (r *Router) Address() common.Address { return r.cfg.Address }

// Config returns the router configuration
func (r *Router) Config() Config { return r.cfg }

// Venues returns the current venue table
func (r *Router) Venues() *venue.Snapshot { return r.venues.Snapshot() }

// SetVenue registers adapter under id
func (r *Router) SetVenue(caller common.Address, id venue.ID, adapter venue.Adapter) error {
	if err := r.venues.Set(caller, id, adapter); err != nil {
		return err
	}
	r.log.Info("venue registered", "id", id, "kind", adapter.Kind().String(), "address", adapter.Address())
	return nil
}

// RemoveVenue unregisters id
func (r *Router) RemoveVenue(caller common.Address, id venue.ID) error {
	if err := r.venues.Remove(caller, id); err != nil {
		return err
	}
	r.log.Info("venue removed", "id", id)
	return nil
}

// TransferOwnership hands venue administration to newOwner
func (r *Router) TransferOwnership(caller, newOwner common.Address) error {
	if err := r.venues.TransferOwnership(caller, newOwner); err != nil {
		return err
	}
	r.log.Info("router ownership transferred", "owner", newOwner)
	return nil
}

// SwapExactInput sells exactly amountIn of tokenIn across the route and
// fails unless the legs together return at least minAmountOut of tokenOut.
func (r *Router) SwapExactInput(
	state contract.StateDB,
	caller common.Address,
	rt *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	amountIn *uint256.Int,
	minAmountOut *uint256.Int,
) (*uint256.Int, error) {
	req := &request{
		state:    state,
		caller:   caller,
		route:    rt,
		tokenIn:  tokenIn,
		tokenOut: tokenOut,
		totalIn:  amountIn,
		totalOut: amountIn,
	}
	amountOut, err := r.execute(req, func(ctx *venue.Context, a venue.Adapter, leg route.LegAmount) (*uint256.Int, error) {
		return a.SwapExactInput(ctx, tokenIn, tokenOut, leg.AmountIn, new(uint256.Int))
	}, func(leg route.LegAmount) bool {
		return leg.AmountIn.IsZero()
	}, func(sum *uint256.Int) error {
		if sum.Lt(minAmountOut) {
			return fmt.Errorf("%w: out %s below %s", venue.ErrInsufficientAmount, sum, minAmountOut)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.emitSwap(state, caller, rt, tokenIn, tokenOut, amountIn, amountOut)
	return amountOut, nil
}

// SwapExactOutput buys exactly amountOut of tokenOut across the route and
// fails if the legs together consume more than maxAmountIn of tokenIn.
func (r *Router) SwapExactOutput(
	state contract.StateDB,
	caller common.Address,
	rt *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	maxAmountIn *uint256.Int,
	amountOut *uint256.Int,
) (*uint256.Int, error) {
	req := &request{
		state:    state,
		caller:   caller,
		route:    rt,
		tokenIn:  tokenIn,
		tokenOut: tokenOut,
		totalIn:  maxAmountIn,
		totalOut: amountOut,
	}
	amountIn, err := r.execute(req, func(ctx *venue.Context, a venue.Adapter, leg route.LegAmount) (*uint256.Int, error) {
		return a.SwapExactOutput(ctx, tokenIn, tokenOut, leg.AmountIn, leg.AmountOut)
	}, func(leg route.LegAmount) bool {
		return leg.AmountOut.IsZero()
	}, func(sum *uint256.Int) error {
		if maxAmountIn.Lt(sum) {
			return fmt.Errorf("%w: in %s above %s", venue.ErrTooMuchRequested, sum, maxAmountIn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.emitSwap(state, caller, rt, tokenIn, tokenOut, amountIn, amountOut)
	return amountIn, nil
}

type request struct {
	state    contract.StateDB
	caller   common.Address
	route    *big.Int
	tokenIn  common.Address
	tokenOut common.Address
	totalIn  *uint256.Int
	totalOut *uint256.Int
}

type (
	legFunc   func(ctx *venue.Context, a venue.Adapter, leg route.LegAmount) (*uint256.Int, error)
	skipFunc  func(leg route.LegAmount) bool
	boundFunc func(sum *uint256.Int) error
)

type resolvedLeg struct {
	route.LegAmount
	adapter venue.Adapter
}

// execute runs one request under the reentrancy guard and a state snapshot.
// Any failure reverts every leg.
func (r *Router) execute(req *request, run legFunc, skip skipFunc, bound boundFunc) (*uint256.Int, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()

	legs, err := r.resolve(req.state, req.route, req.tokenIn, req.tokenOut, req.totalIn, req.totalOut)
	if err != nil {
		return nil, err
	}

	ctx := &venue.Context{
		State:     req.state,
		Settler:   r.settler,
		Payer:     req.caller,
		Recipient: req.caller,
	}

	snap := req.state.Snapshot()
	sum := new(uint256.Int)
	for i, leg := range legs {
		if skip(leg.LegAmount) {
			r.log.Debug("skipping empty leg", "leg", i, "venue", leg.Venue)
			continue
		}
		got, err := run(ctx, leg.adapter, leg.LegAmount)
		if err != nil {
			req.state.RevertToSnapshot(snap)
			return nil, fmt.Errorf("leg %d venue %d: %w", i, leg.Venue, err)
		}
		if _, overflow := sum.AddOverflow(sum, got); overflow {
			req.state.RevertToSnapshot(snap)
			return nil, ErrOverflow
		}
		r.log.Debug("leg executed",
			"leg", i,
			"venue", leg.Venue,
			"kind", leg.adapter.Kind().String(),
			"amountIn", leg.AmountIn,
			"amountOut", leg.AmountOut,
			"result", got,
		)
	}
	if err := bound(sum); err != nil {
		req.state.RevertToSnapshot(snap)
		return nil, err
	}
	return sum, nil
}

// resolve decodes the route and checks every venue and pair before any
// token moves.
func (r *Router) resolve(
	state contract.StateDB,
	rt *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	totalIn *uint256.Int,
	totalOut *uint256.Int,
) ([]resolvedLeg, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: %s", venue.ErrIdenticalTokens, tokenIn.Hex())
	}
	amounts, err := route.Decode(rt, totalIn, totalOut)
	if err != nil {
		return nil, err
	}

	venues := r.venues.Snapshot()
	legs := make([]resolvedLeg, len(amounts))
	for i, leg := range amounts {
		adapter, ok := venues.Get(venue.ID(leg.Venue))
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownVenue, leg.Venue)
		}
		if !adapter.HasPair(state, tokenIn, tokenOut) {
			return nil, fmt.Errorf("%w: venue %d %s/%s", venue.ErrUnknownPool, leg.Venue, tokenIn.Hex(), tokenOut.Hex())
		}
		legs[i] = resolvedLeg{LegAmount: leg, adapter: adapter}
	}
	return legs, nil
}

func (r *Router) lock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ErrReentrant
	}
	r.locked = true
	return nil
}

func (r *Router) unlock() {
	r.mu.Lock()
	r.locked = false
	r.mu.Unlock()
}

// LegQuote is one leg of a Quote
type LegQuote struct {
	Venue     uint8
	Weight    uint16
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// Quote is the read-only result of pricing a route
type Quote struct {
	Legs      []LegQuote
	AmountIn  *uint256.Int
	AmountOut *uint256.Int

	// Price is AmountOut per unit of AmountIn
	Price decimal.Decimal
}

// Quote prices an exact-input swap along the route without moving tokens
func (r *Router) Quote(
	state contract.StateDB,
	rt *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	amountIn *uint256.Int,
) (*Quote, error) {
	legs, err := r.resolve(state, rt, tokenIn, tokenOut, amountIn, amountIn)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Legs:      make([]LegQuote, 0, len(legs)),
		AmountIn:  amountIn.Clone(),
		AmountOut: new(uint256.Int),
	}
	for i, leg := range legs {
		out := new(uint256.Int)
		if !leg.AmountIn.IsZero() {
			out, err = leg.adapter.QuoteExactInput(state, tokenIn, tokenOut, leg.AmountIn)
			if err != nil {
				return nil, fmt.Errorf("leg %d venue %d: %w", i, leg.Venue, err)
			}
		}
		if _, overflow := q.AmountOut.AddOverflow(q.AmountOut, out); overflow {
			return nil, ErrOverflow
		}
		q.Legs = append(q.Legs, LegQuote{
			Venue:     leg.Venue,
			Weight:    leg.Weight,
			AmountIn:  leg.AmountIn,
			AmountOut: out,
		})
	}
	if !amountIn.IsZero() {
		q.Price = decimal.NewFromBigInt(q.AmountOut.ToBig(), 0).
			Div(decimal.NewFromBigInt(amountIn.ToBig(), 0))
	}
	return q, nil
}

func (r *Router) emitSwap(
	state contract.StateDB,
	sender common.Address,
	rt *big.Int,
	tokenIn common.Address,
	tokenOut common.Address,
	amountIn *uint256.Int,
	amountOut *uint256.Int,
) {
	if rt == nil {
		rt = new(big.Int)
	}
	// Routes wider than a word cannot be logged
	if rt.BitLen() > 256 {
		r.log.Warn("swap event not emitted", "routeBits", rt.BitLen())
		return
	}
	topics, data, err := RouterABI.PackEvent("Swap", sender, tokenIn, tokenOut, amountIn.ToBig(), amountOut.ToBig(), rt)
	if err != nil {
		r.log.Warn("swap event not emitted", "err", err)
		return
	}
	state.AddLog(&types.Log{
		Address:     r.cfg.Address,
		Topics:      topics,
		Data:        data,
		BlockNumber: state.GetBlockNumber(),
	})
	r.log.Debug("swap",
		"sender", sender,
		"tokenIn", tokenIn,
		"tokenOut", tokenOut,
		"amountIn", amountIn,
		"amountOut", amountOut,
	)
}
