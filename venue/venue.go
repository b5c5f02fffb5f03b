// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package venue defines the uniform interface the router uses to trade
// against heterogeneous liquidity venues.
package venue

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/settlement"
)

// ID is the 6-bit venue number carried in a route
type ID uint8

// MaxID is the largest venue id a route can address
const MaxID ID = 63

// Kind is the venue family. The set is closed.
type Kind uint8

const (
	ConstantProduct Kind = iota
	StableSwap
	PMM
	FixedMaturity
)

func (k Kind) String() string {
	switch k {
	case ConstantProduct:
		return "constant-product"
	case StableSwap:
		return "stableswap"
	case PMM:
		return "pmm"
	case FixedMaturity:
		return "fixed-maturity"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrUnknownPool        = errors.New("unknown pool")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrTooMuchRequested   = errors.New("too much requested")
	ErrNotSupported       = errors.New("not supported")
	ErrSettlementMissing  = errors.New("venue returned without settling")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrIdenticalTokens    = errors.New("identical tokens")
)

// ErrPoolNotFound is the name pool-level code uses for ErrUnknownPool
var ErrPoolNotFound = ErrUnknownPool

// Context is the per-leg execution context handed to an adapter.
// Payer funds the input through Settler; Recipient receives the output.
type Context struct {
	State     contract.StateDB
	Settler   *settlement.Settler
	Payer     common.Address
	Recipient common.Address
}

// Adapter trades one venue family.
//
// SwapExactInput spends exactly amountIn and fails with ErrInsufficientAmount
// below minAmountOut. SwapExactOutput delivers exactly amountOut and fails
// with ErrTooMuchRequested above maxAmountIn. Both return the amount on the
// other side of the trade. Payment is only ever collected through a ticket
// from ctx.Settler redeemed by the venue itself.
type Adapter interface {
	Kind() Kind
	Address() common.Address
	HasPair(state contract.StateDB, tokenIn, tokenOut common.Address) bool
	QuoteExactInput(state contract.StateDB, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error)
	SwapExactInput(ctx *Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *uint256.Int) (*uint256.Int, error)
	SwapExactOutput(ctx *Context, tokenIn, tokenOut common.Address, maxAmountIn, amountOut *uint256.Int) (*uint256.Int, error)
}

// PairKey is an unordered token pair, stored sorted (Token0 < Token1)
type PairKey struct {
	Token0 common.Address
	Token1 common.Address
}

// NewPairKey sorts a and b into a key
func NewPairKey(a, b common.Address) (PairKey, error) {
	switch bytes.Compare(a.Bytes(), b.Bytes()) {
	case 0:
		return PairKey{}, fmt.Errorf("%w: %s", ErrIdenticalTokens, a.Hex())
	case 1:
		a, b = b, a
	}
	return PairKey{Token0: a, Token1: b}, nil
}

// ID computes the pair identifier
func (k PairKey) ID() [32]byte {
	h := blake3.New()
	h.Write(k.Token0.Bytes())
	h.Write(k.Token1.Bytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// ZeroForOne reports whether tokenIn is Token0
func (k PairKey) ZeroForOne(tokenIn common.Address) bool {
	return tokenIn == k.Token0
}
