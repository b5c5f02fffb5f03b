// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/route"
)

var (
	ErrOutOfGas         = errors.New("out of gas")
	ErrWriteProtection  = errors.New("cannot write in read-only mode")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownSelector  = errors.New("unknown method selector")
	errAmountOutOfRange = errors.New("amount exceeds 256 bits")
)

// Contract exposes a Router as an ABI-encoded call surface
type Contract struct {
	router *Router
}

// NewContract wraps r
func NewContract(r *Router) *Contract {
	return &Contract{router: r}
}

// Run executes one ABI call from caller and returns the packed result and
// the gas left over.
func (c *Contract) Run(
	state contract.StateDB,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("%w: input too short", ErrInvalidInput)
	}
	method, err := RouterABI.MethodById(input[:4])
	if err != nil {
		return nil, suppliedGas, fmt.Errorf("%w: %x", ErrUnknownSelector, input[:4])
	}
	args, err := RouterABI.UnpackInput(method.Name, input[4:], true)
	if err != nil {
		return nil, suppliedGas, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	switch method.Name {
	case "swapExactInput", "swapExactOutput":
		if readOnly {
			return nil, suppliedGas, ErrWriteProtection
		}
		return c.runSwap(state, caller, method.Name, args, suppliedGas)
	case "quoteExactInput":
		return c.runQuote(state, args, suppliedGas)
	default:
		return nil, suppliedGas, fmt.Errorf("%w: %s", ErrUnknownSelector, method.Name)
	}
}

func (c *Contract) runSwap(
	state contract.StateDB,
	caller common.Address,
	name string,
	args []interface{},
	suppliedGas uint64,
) ([]byte, uint64, error) {
	rt, tokenIn, tokenOut, a, b, err := swapArgs(args)
	if err != nil {
		return nil, suppliedGas, err
	}
	legs, err := route.Legs(rt)
	if err != nil {
		return nil, suppliedGas, err
	}
	cfg := c.router.Config()
	cost := cfg.swapGas(len(legs))
	if suppliedGas < cost {
		return nil, 0, ErrOutOfGas
	}
	remaining := suppliedGas - cost

	var result *uint256.Int
	if name == "swapExactInput" {
		result, err = c.router.SwapExactInput(state, caller, rt, tokenIn, tokenOut, a, b)
	} else {
		result, err = c.router.SwapExactOutput(state, caller, rt, tokenIn, tokenOut, a, b)
	}
	if err != nil {
		return nil, remaining, err
	}
	ret, err := RouterABI.PackOutput(name, result.ToBig())
	return ret, remaining, err
}

func (c *Contract) runQuote(state contract.StateDB, args []interface{}, suppliedGas uint64) ([]byte, uint64, error) {
	if len(args) != 4 {
		return nil, suppliedGas, fmt.Errorf("%w: %d args", ErrInvalidInput, len(args))
	}
	rt, ok0 := args[0].(*big.Int)
	tokenIn, ok1 := args[1].(common.Address)
	tokenOut, ok2 := args[2].(common.Address)
	amountIn, ok3 := args[3].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return nil, suppliedGas, ErrInvalidInput
	}
	amount, overflow := uint256.FromBig(amountIn)
	if overflow {
		return nil, suppliedGas, errAmountOutOfRange
	}
	legs, err := route.Legs(rt)
	if err != nil {
		return nil, suppliedGas, err
	}
	cost := GasQuote * uint64(len(legs))
	if suppliedGas < cost {
		return nil, 0, ErrOutOfGas
	}

	q, err := c.router.Quote(state, rt, tokenIn, tokenOut, amount)
	if err != nil {
		return nil, suppliedGas - cost, err
	}
	ret, err := RouterABI.PackOutput("quoteExactInput", q.AmountOut.ToBig())
	return ret, suppliedGas - cost, err
}

// swapArgs unpacks (route, tokenIn, tokenOut, amount, amount)
func swapArgs(args []interface{}) (*big.Int, common.Address, common.Address, *uint256.Int, *uint256.Int, error) {
	var zero common.Address
	if len(args) != 5 {
		return nil, zero, zero, nil, nil, fmt.Errorf("%w: %d args", ErrInvalidInput, len(args))
	}
	rt, ok0 := args[0].(*big.Int)
	tokenIn, ok1 := args[1].(common.Address)
	tokenOut, ok2 := args[2].(common.Address)
	a, ok3 := args[3].(*big.Int)
	b, ok4 := args[4].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, zero, zero, nil, nil, ErrInvalidInput
	}
	ua, overflowA := uint256.FromBig(a)
	ub, overflowB := uint256.FromBig(b)
	if overflowA || overflowB {
		return nil, zero, zero, nil, nil, errAmountOutOfRange
	}
	return rt, tokenIn, tokenOut, ua, ub, nil
}
