// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package maturity implements a fixed-maturity venue trading a principal
// token (PT) against its standardized yield token (SY).
//
// Before expiry PT trades at a linear discount to SY that decays to zero at
// expiry. After expiry PT redeems 1:1 for SY and SY can no longer be sold
// for PT.
package maturity

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/venue"
)

const (
	// WAD is the fixed-point unit for prices and rates
	WAD = 1_000_000_000_000_000_000

	// Year is the period Rate is quoted over, in seconds
	Year = 365 * 24 * 60 * 60

	// FeeDenominator is the fee unit; a fee of 3000 is 0.30%
	FeeDenominator = 1_000_000
)

// Phase of a market relative to its expiry
type Phase uint8

const (
	PreMaturity Phase = iota
	PostMaturity
)

func (p Phase) String() string {
	if p == PostMaturity {
		return "post-maturity"
	}
	return "pre-maturity"
}

var (
	ErrWrongToken   = errors.New("token not in market")
	ErrInvalidPrice = errors.New("discount exceeds par")
	ErrReceived     = errors.New("market input not received")
	ErrNilMarket    = errors.New("nil market")
)

var (
	wad            = uint256.NewInt(WAD)
	feeDenominator = uint256.NewInt(FeeDenominator)
)

// Ledger is the token capability a market moves balances through
type Ledger interface {
	BalanceOf(state contract.StateDB, token, holder common.Address) *uint256.Int
	Transfer(state contract.StateDB, token, from, to common.Address, amount *uint256.Int) error
}

// PayFunc is called by the market to collect the input amount. The market
// passes its own address as caller.
type PayFunc func(caller, token common.Address, amount *uint256.Int) error

// Market is one PT/SY maturity. Its inventory of both tokens lives on the
// ledger under Address.
type Market struct {
	Address common.Address
	PT      common.Address
	SY      common.Address
	Expiry  uint64       // Unix seconds
	Rate    *uint256.Int // Annualized discount, WAD
	Fee     uint32       // In FeeDenominator units, pre-maturity only
}

// Validate checks the market definition
func (m *Market) Validate() error {
	if m.PT == m.SY {
		return fmt.Errorf("market %s: identical tokens", m.Address.Hex())
	}
	if m.Rate == nil {
		return fmt.Errorf("market %s: missing rate", m.Address.Hex())
	}
	if m.Fee >= FeeDenominator {
		return fmt.Errorf("market %s: fee %d", m.Address.Hex(), m.Fee)
	}
	return nil
}

// Phase is a pure function of the block time
func (m *Market) Phase(state contract.StateDB) Phase {
	if state.GetBlockTimestamp() >= m.Expiry {
		return PostMaturity
	}
	return PreMaturity
}

// Price returns the SY value of one PT, WAD-scaled
func (m *Market) Price(state contract.StateDB) (*uint256.Int, error) {
	now := state.GetBlockTimestamp()
	if now >= m.Expiry {
		return wad.Clone(), nil
	}
	discount, overflow := new(uint256.Int).MulDivOverflow(m.Rate, uint256.NewInt(m.Expiry-now), uint256.NewInt(Year))
	if overflow || !discount.Lt(wad) {
		return nil, ErrInvalidPrice
	}
	return new(uint256.Int).Sub(wad, discount), nil
}

// checkDirection rejects tokens outside the market and, after expiry,
// selling SY for PT.
func (m *Market) checkDirection(state contract.StateDB, tokenIn, tokenOut common.Address) error {
	switch {
	case tokenIn == m.PT && tokenOut == m.SY:
		return nil
	case tokenIn == m.SY && tokenOut == m.PT:
		if m.Phase(state) == PostMaturity {
			return fmt.Errorf("%w: SY to PT after expiry", venue.ErrNotSupported)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s/%s", ErrWrongToken, tokenIn.Hex(), tokenOut.Hex())
	}
}

// QuoteExactInput returns the tokenOut amount for amountIn of tokenIn
func (m *Market) QuoteExactInput(state contract.StateDB, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	if err := m.checkDirection(state, tokenIn, tokenOut); err != nil {
		return nil, err
	}
	if m.Phase(state) == PostMaturity {
		return amountIn.Clone(), nil
	}

	price, err := m.Price(state)
	if err != nil {
		return nil, err
	}
	var (
		gross    *uint256.Int
		overflow bool
	)
	if tokenIn == m.PT {
		gross, overflow = new(uint256.Int).MulDivOverflow(amountIn, price, wad)
	} else {
		gross, overflow = new(uint256.Int).MulDivOverflow(amountIn, wad, price)
	}
	if overflow {
		return nil, ErrInvalidPrice
	}
	out, _ := new(uint256.Int).MulDivOverflow(gross, uint256.NewInt(FeeDenominator-uint64(m.Fee)), feeDenominator)
	return out, nil
}

// QuoteExactOutput returns the smallest tokenIn amount whose exact-input
// quote is at least amountOut.
func (m *Market) QuoteExactOutput(state contract.StateDB, tokenIn, tokenOut common.Address, amountOut *uint256.Int) (*uint256.Int, error) {
	if err := m.checkDirection(state, tokenIn, tokenOut); err != nil {
		return nil, err
	}
	if m.Phase(state) == PostMaturity {
		return amountOut.Clone(), nil
	}

	price, err := m.Price(state)
	if err != nil {
		return nil, err
	}
	gross, err := mulDivUp(amountOut, feeDenominator, uint256.NewInt(FeeDenominator-uint64(m.Fee)))
	if err != nil {
		return nil, err
	}
	if tokenIn == m.PT {
		return mulDivUp(gross, wad, price)
	}
	return mulDivUp(gross, price, wad)
}

// SwapExactInput sells amountIn of tokenIn. pay is called once for the
// input before any output is released.
func (m *Market) SwapExactInput(
	state contract.StateDB,
	ledger Ledger,
	tokenIn common.Address,
	tokenOut common.Address,
	amountIn *uint256.Int,
	minAmountOut *uint256.Int,
	recipient common.Address,
	pay PayFunc,
) (*uint256.Int, error) {
	amountOut, err := m.QuoteExactInput(state, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Lt(minAmountOut) {
		return nil, fmt.Errorf("%w: out %s below %s", venue.ErrInsufficientAmount, amountOut, minAmountOut)
	}

	if err := m.collect(state, ledger, tokenIn, amountIn, pay); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(state, tokenOut, m.Address, recipient, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SwapExactOutput buys exactly amountOut of tokenOut for the smallest input
// that covers it. Rounding surplus stays in the market's inventory.
func (m *Market) SwapExactOutput(
	state contract.StateDB,
	ledger Ledger,
	tokenIn common.Address,
	tokenOut common.Address,
	amountOut *uint256.Int,
	maxAmountIn *uint256.Int,
	recipient common.Address,
	pay PayFunc,
) (*uint256.Int, error) {
	amountIn, err := m.QuoteExactOutput(state, tokenIn, tokenOut, amountOut)
	if err != nil {
		return nil, err
	}
	if maxAmountIn.Lt(amountIn) {
		return nil, fmt.Errorf("%w: in %s above %s", venue.ErrTooMuchRequested, amountIn, maxAmountIn)
	}

	if err := m.collect(state, ledger, tokenIn, amountIn, pay); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(state, tokenOut, m.Address, recipient, amountOut); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// collect calls pay for amountIn and checks that it arrived
func (m *Market) collect(state contract.StateDB, ledger Ledger, tokenIn common.Address, amountIn *uint256.Int, pay PayFunc) error {
	before := ledger.BalanceOf(state, tokenIn, m.Address)
	if err := pay(m.Address, tokenIn, amountIn); err != nil {
		return err
	}
	after := ledger.BalanceOf(state, tokenIn, m.Address)
	if after.Lt(before) || new(uint256.Int).Sub(after, before).Lt(amountIn) {
		return ErrReceived
	}
	return nil
}

// mulDivUp returns ceil(x*y/d)
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrInvalidPrice
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return q, nil
	}
	if _, overflow = q.AddOverflow(q, uint256.NewInt(1)); overflow {
		return nil, ErrInvalidPrice
	}
	return q, nil
}
