// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cpamm implements the constant-product (x*y=k) venue family.
package cpamm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swaprouter/contract"
)

// FeeDenominator is the fee unit; a fee of 3000 is 0.30%
const FeeDenominator = 1_000_000

// Pool fee tiers
const (
	Fee001 uint32 = 100    // 0.01% - stablecoins
	Fee005 uint32 = 500    // 0.05% - stable pairs
	Fee030 uint32 = 3000   // 0.30% - standard
	Fee100 uint32 = 10000  // 1.00% - exotic pairs
	FeeMax uint32 = 100000 // 10% max fee
)

// Storage key prefixes for pool state
var (
	reserve0Prefix = []byte("rsv0")
	reserve1Prefix = []byte("rsv1")
)

// SyncTopic is emitted whenever reserves change
var SyncTopic = common.BytesToHash(crypto.Keccak256([]byte("Sync(uint256,uint256)")))

var (
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrInsufficientInputAmount  = errors.New("insufficient input amount")
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	ErrInvariant                = errors.New("k invariant violated")
	ErrInvalidFee               = errors.New("invalid fee")
	ErrWrongToken               = errors.New("token not in pool")
	ErrOverflow                 = errors.New("amount overflow")
)

// Ledger is the token capability a pool moves balances through
type Ledger interface {
	BalanceOf(state contract.StateDB, token, holder common.Address) *uint256.Int
	Transfer(state contract.StateDB, token, from, to common.Address, amount *uint256.Int) error
}

// PayFunc is called by the pool mid-swap to collect the input amount. The
// pool passes its own address as caller. It must deliver amount of token to
// the pool before returning.
type PayFunc func(caller, token common.Address, amount *uint256.Int) error

// Pool is a two-token constant-product market. Reserves live in the pool
// account's storage; the pool's token balances live on the ledger.
type Pool struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
	Fee     uint32 // In FeeDenominator units
}

// Validate checks the pool definition
func (p *Pool) Validate() error {
	if p.Token0 == p.Token1 {
		return fmt.Errorf("pool %s: identical tokens", p.Address.Hex())
	}
	if p.Fee > FeeMax {
		return fmt.Errorf("%w: %d", ErrInvalidFee, p.Fee)
	}
	return nil
}

// Reserves returns the recorded reserves
func (p *Pool) Reserves(state contract.StateDB) (*uint256.Int, *uint256.Int) {
	r0 := state.GetState(p.Address, storageKey(reserve0Prefix))
	r1 := state.GetState(p.Address, storageKey(reserve1Prefix))
	return new(uint256.Int).SetBytes32(r0[:]), new(uint256.Int).SetBytes32(r1[:])
}

// ReservesFor returns the reserves ordered as (in, out) for tokenIn
func (p *Pool) ReservesFor(state contract.StateDB, tokenIn common.Address) (*uint256.Int, *uint256.Int, error) {
	r0, r1 := p.Reserves(state)
	switch tokenIn {
	case p.Token0:
		return r0, r1, nil
	case p.Token1:
		return r1, r0, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongToken, tokenIn.Hex())
	}
}

// Other returns the counterpart of token in the pool
func (p *Pool) Other(token common.Address) common.Address {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}

// AddLiquidity moves amount0 and amount1 from provider into the pool and
// resyncs the reserves.
func (p *Pool) AddLiquidity(state contract.StateDB, ledger Ledger, provider common.Address, amount0, amount1 *uint256.Int) error {
	if err := ledger.Transfer(state, p.Token0, provider, p.Address, amount0); err != nil {
		return err
	}
	if err := ledger.Transfer(state, p.Token1, provider, p.Address, amount1); err != nil {
		return err
	}
	p.sync(state, ledger)
	return nil
}

// GetAmountOut returns the output for amountIn against reserves, net of fee
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	amountInWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(FeeDenominator-uint64(fee)))
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(FeeDenominator))
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = denominator.AddOverflow(denominator, amountInWithFee); overflow {
		return nil, ErrOverflow
	}
	out, _ := new(uint256.Int).MulDivOverflow(amountInWithFee, reserveOut, denominator)
	return out, nil
}

// GetAmountIn returns the input needed to take amountOut from reserves, fee
// included, rounded up.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, fee uint32) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutputAmount
	}
	if reserveIn.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}

	numerator, overflow := new(uint256.Int).MulOverflow(reserveIn, amountOut)
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(
		new(uint256.Int).Sub(reserveOut, amountOut),
		uint256.NewInt(FeeDenominator-uint64(fee)),
	)
	if overflow {
		return nil, ErrOverflow
	}
	in, overflow := new(uint256.Int).MulDivOverflow(numerator, uint256.NewInt(FeeDenominator), denominator)
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = in.AddOverflow(in, uint256.NewInt(1)); overflow {
		return nil, ErrOverflow
	}
	return in, nil
}

// Swap sells amountIn of tokenIn for amountOut of the other token.
//
// The pool calls pay for the input before releasing anything, checks that
// the input actually arrived and that the fee-adjusted product of balances
// did not shrink, then sends amountOut to recipient.
func (p *Pool) Swap(
	state contract.StateDB,
	ledger Ledger,
	tokenIn common.Address,
	amountIn *uint256.Int,
	amountOut *uint256.Int,
	recipient common.Address,
	pay PayFunc,
) error {
	if amountOut.IsZero() {
		return ErrInsufficientOutputAmount
	}
	reserveIn, reserveOut, err := p.ReservesFor(state, tokenIn)
	if err != nil {
		return err
	}
	if !amountOut.Lt(reserveOut) {
		return ErrInsufficientLiquidity
	}
	tokenOut := p.Other(tokenIn)

	if err := pay(p.Address, tokenIn, amountIn); err != nil {
		return err
	}

	balanceIn := ledger.BalanceOf(state, tokenIn, p.Address)
	if !reserveIn.Lt(balanceIn) {
		return ErrInsufficientInputAmount
	}
	received := new(uint256.Int).Sub(balanceIn, reserveIn)
	if received.Lt(amountIn) {
		return fmt.Errorf("%w: received %s want %s", ErrInsufficientInputAmount, received, amountIn)
	}

	if err := ledger.Transfer(state, tokenOut, p.Address, recipient, amountOut); err != nil {
		return err
	}
	balanceOut := ledger.BalanceOf(state, tokenOut, p.Address)

	// (balIn*D - received*fee) * balOut*D >= rIn * rOut * D^2
	d := big.NewInt(FeeDenominator)
	adjIn := new(big.Int).Mul(balanceIn.ToBig(), d)
	adjIn.Sub(adjIn, new(big.Int).Mul(received.ToBig(), big.NewInt(int64(p.Fee))))
	adjOut := new(big.Int).Mul(balanceOut.ToBig(), d)
	lhs := new(big.Int).Mul(adjIn, adjOut)
	rhs := new(big.Int).Mul(reserveIn.ToBig(), reserveOut.ToBig())
	rhs.Mul(rhs, d).Mul(rhs, d)
	if lhs.Cmp(rhs) < 0 {
		return ErrInvariant
	}

	p.sync(state, ledger)
	return nil
}

// sync records the pool's ledger balances as its reserves
func (p *Pool) sync(state contract.StateDB, ledger Ledger) {
	b0 := ledger.BalanceOf(state, p.Token0, p.Address)
	b1 := ledger.BalanceOf(state, p.Token1, p.Address)
	state.SetState(p.Address, storageKey(reserve0Prefix), common.Hash(b0.Bytes32()))
	state.SetState(p.Address, storageKey(reserve1Prefix), common.Hash(b1.Bytes32()))

	w0, w1 := b0.Bytes32(), b1.Bytes32()
	state.AddLog(&types.Log{
		Address: p.Address,
		Topics:  []common.Hash{SyncTopic},
		Data:    append(w0[:], w1[:]...),
	})
}

// storageKey creates a storage key from prefix and identifiers
func storageKey(prefix []byte, ids ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}
