// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/swaprouter/route"
)

func TestRunSwapExactInput(t *testing.T) {
	f := newFixture(t)
	f.addPool(1, 1_000_000, 1_000_000)
	f.addPool(2, 1_000_000, 1_000_000)
	c := NewContract(f.router)

	rt := encode(t, route.Leg{Venue: 1, Weight: route.ONE / 2}, route.Leg{Venue: 2, Weight: route.ONE / 2})
	input, err := RouterABI.Pack("swapExactInput", rt, tokenA, tokenB, big.NewInt(2000), big.NewInt(1992))
	require.NoError(t, err)

	const supplied = 1_000_000
	ret, remaining, err := c.Run(f.state, trader, input, supplied, false)
	require.NoError(t, err)
	require.Equal(t, uint64(supplied-GasSwapBase-2*GasPerLeg), remaining)

	out, err := RouterABI.Unpack("swapExactInput", ret)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1992), out[0])
	require.Equal(t, uint64(1_000_000_000+1992), f.balance(tokenB, trader))
}

func TestRunSwapExactOutput(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)
	c := NewContract(f.router)

	input, err := RouterABI.Pack("swapExactOutput", big.NewInt(0), tokenA, tokenB, big.NewInt(1000), big.NewInt(996))
	require.NoError(t, err)
	ret, _, err := c.Run(f.state, trader, input, 1_000_000, false)
	require.NoError(t, err)

	in, err := RouterABI.Unpack("swapExactOutput", ret)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), in[0])
}

func TestRunQuote(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)
	c := NewContract(f.router)

	input, err := RouterABI.Pack("quoteExactInput", big.NewInt(0), tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)

	// Quoting is allowed in a read-only call
	ret, remaining, err := c.Run(f.state, trader, input, 100_000, true)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000-GasQuote), remaining)
	out, err := RouterABI.Unpack("quoteExactInput", ret)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(996), out[0])
}

func TestRunRejects(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)
	c := NewContract(f.router)

	swap, err := RouterABI.Pack("swapExactInput", big.NewInt(0), tokenA, tokenB, big.NewInt(1000), big.NewInt(0))
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    []byte
		gas      uint64
		readOnly bool
		err      error
	}{
		{name: "short input", input: []byte{0x01, 0x02}, gas: 1_000_000, err: ErrInvalidInput},
		{name: "unknown selector", input: []byte{0xde, 0xad, 0xbe, 0xef}, gas: 1_000_000, err: ErrUnknownSelector},
		{name: "truncated args", input: swap[:40], gas: 1_000_000, err: ErrInvalidInput},
		{name: "read only swap", input: swap, gas: 1_000_000, readOnly: true, err: ErrWriteProtection},
		{name: "out of gas", input: swap, gas: GasSwapBase + GasPerLeg - 1, err: ErrOutOfGas},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Run(f.state, trader, tt.input, tt.gas, tt.readOnly)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))
		})
	}
}
