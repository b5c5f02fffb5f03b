// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/swaprouter/contract"
	"github.com/luxfi/swaprouter/route"
	"github.com/luxfi/swaprouter/state"
	"github.com/luxfi/swaprouter/token"
	"github.com/luxfi/swaprouter/venue"
	"github.com/luxfi/swaprouter/venue/cpamm"
	"github.com/luxfi/swaprouter/venue/maturity"
)

const startTime = 1_700_000_000

var (
	owner    = common.HexToAddress("0x000000000000000000000000000000000000dead")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000beef")
	provider = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	trader   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	pt       = common.HexToAddress("0x0000000000000000000000000000000000007001")
	sy       = common.HexToAddress("0x0000000000000000000000000000000000005001")
)

type fixture struct {
	t      *testing.T
	state  *state.State
	ledger *token.Ledger
	router *Router
	logger log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := state.New(memdb.New())
	s.SetBlock(1, startTime)
	l := token.NewLedger()
	logger := log.NewTestLogger(log.InfoLevel)

	cfg := DefaultConfig()
	cfg.Owner = owner
	r, err := New(cfg, l, logger)
	require.NoError(t, err)

	for _, tok := range []common.Address{tokenA, tokenB, pt, sy} {
		l.Mint(s, tok, trader, uint256.NewInt(1_000_000_000))
		l.Approve(s, tok, trader, r.Address(), token.MaxAllowance)
	}
	return &fixture{t: t, state: s, ledger: l, router: r, logger: logger}
}

// addPool registers a constant-product venue with one A/B pool
func (f *fixture) addPool(id venue.ID, reserveA, reserveB uint64) *cpamm.Pool {
	f.t.Helper()
	poolAddr := common.BigToAddress(big.NewInt(0x9100 + int64(id)))
	pool := &cpamm.Pool{Address: poolAddr, Token0: tokenA, Token1: tokenB, Fee: cpamm.Fee030}
	f.ledger.Mint(f.state, tokenA, provider, uint256.NewInt(reserveA))
	f.ledger.Mint(f.state, tokenB, provider, uint256.NewInt(reserveB))
	require.NoError(f.t, pool.AddLiquidity(f.state, f.ledger, provider, uint256.NewInt(reserveA), uint256.NewInt(reserveB)))

	a := cpamm.NewAdapter(common.BigToAddress(big.NewInt(0x9000+int64(id))), owner, f.ledger, f.logger)
	require.NoError(f.t, a.AddPool(owner, pool))
	require.NoError(f.t, f.router.SetVenue(owner, id, a))
	return pool
}

func (f *fixture) balance(tok, holder common.Address) uint64 {
	return f.ledger.BalanceOf(f.state, tok, holder).Uint64()
}

func encode(t *testing.T, legs ...route.Leg) *big.Int {
	t.Helper()
	r, err := route.Encode(legs)
	require.NoError(t, err)
	return r
}

func TestSingleLegScenario(t *testing.T) {
	f := newFixture(t)
	const price = 2
	f.addPool(0, 1_000_000_000, price*1_000_000_000)
	rt := encode(t, route.Leg{Venue: 0, Weight: route.ONE})

	want, err := cpamm.GetAmountOut(uint256.NewInt(1000), uint256.NewInt(1_000_000_000), uint256.NewInt(price*1_000_000_000), cpamm.Fee030)
	require.NoError(t, err)
	require.True(t, want.Lt(uint256.NewInt(price*1000)))

	// A floor one above the fee-free output cannot be met
	_, err = f.router.SwapExactInput(f.state, trader, rt, tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(price*1000+1))
	require.ErrorIs(t, err, venue.ErrInsufficientAmount)
	require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))
	require.Equal(t, uint64(1_000_000_000), f.balance(tokenB, trader))

	out, err := f.router.SwapExactInput(f.state, trader, rt, tokenA, tokenB, uint256.NewInt(1000), want)
	require.NoError(t, err)
	require.Equal(t, want, out)
	require.Equal(t, uint64(1_000_000_000-1000), f.balance(tokenA, trader))
	require.Equal(t, 1_000_000_000+want.Uint64(), f.balance(tokenB, trader))
}

func TestShorthandRoute(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)

	out, err := f.router.SwapExactInput(f.state, trader, big.NewInt(0), tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, uint64(996), out.Uint64())
}

func TestTwoLegSplit(t *testing.T) {
	f := newFixture(t)
	pool1 := f.addPool(1, 1_000_000_000, 2_000_000_000)
	pool2 := f.addPool(2, 1_000_000_000, 3_000_000_000)

	const w = 10_000
	rt := encode(t, route.Leg{Venue: 1, Weight: w}, route.Leg{Venue: 2, Weight: route.ONE - w})
	amountIn := uint256.NewInt(1_000_000)

	// Expected output per leg, computed against each venue independently
	legs, err := route.Decode(rt, amountIn, new(uint256.Int))
	require.NoError(t, err)
	reserves := map[uint8][2]uint64{1: {1_000_000_000, 2_000_000_000}, 2: {1_000_000_000, 3_000_000_000}}
	want := new(uint256.Int)
	for _, leg := range legs {
		r := reserves[leg.Venue]
		out, err := cpamm.GetAmountOut(leg.AmountIn, uint256.NewInt(r[0]), uint256.NewInt(r[1]), cpamm.Fee030)
		require.NoError(t, err)
		want.Add(want, out)
	}

	q, err := f.router.Quote(f.state, rt, tokenA, tokenB, amountIn)
	require.NoError(t, err)
	require.Equal(t, want, q.AmountOut)
	require.Len(t, q.Legs, 2)

	out, err := f.router.SwapExactInput(f.state, trader, rt, tokenA, tokenB, amountIn, want)
	require.NoError(t, err)
	require.Equal(t, want, out)

	require.Equal(t, uint64(1_000_000_000-1_000_000), f.balance(tokenA, trader))
	require.Equal(t, 1_000_000_000+want.Uint64(), f.balance(tokenB, trader))
	require.Equal(t, uint64(1_000_000), f.balance(tokenA, pool1.Address)+f.balance(tokenA, pool2.Address)-2_000_000_000)

	// The router never holds either token
	require.Equal(t, uint64(0), f.balance(tokenA, f.router.Address()))
	require.Equal(t, uint64(0), f.balance(tokenB, f.router.Address()))
}

func TestPreflightFailuresMoveNothing(t *testing.T) {
	f := newFixture(t)
	f.addPool(1, 1_000_000, 1_000_000)

	// Venue 2 exists but does not serve A/B
	empty := cpamm.NewAdapter(common.HexToAddress("0x9002"), owner, f.ledger, f.logger)
	require.NoError(t, f.router.SetVenue(owner, 2, empty))

	tests := []struct {
		name  string
		route *big.Int
		err   error
	}{
		{
			name:  "unknown venue",
			route: encode(t, route.Leg{Venue: 5, Weight: 1000}, route.Leg{Venue: 1, Weight: route.ONE - 1000}),
			err:   ErrUnknownVenue,
		},
		{
			name:  "unknown pool",
			route: encode(t, route.Leg{Venue: 2, Weight: 1000}, route.Leg{Venue: 1, Weight: route.ONE - 1000}),
			err:   venue.ErrUnknownPool,
		},
		{
			name:  "unbalanced weights",
			route: encode(t, route.Leg{Venue: 1, Weight: 1000}, route.Leg{Venue: 1, Weight: 1000}),
			err:   route.ErrWrongSwapRatios,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := len(f.state.Logs())
			_, err := f.router.SwapExactInput(f.state, trader, tt.route, tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(0))
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))
			require.Equal(t, uint64(1_000_000_000), f.balance(tokenB, trader))
			require.Len(t, f.state.Logs(), logs)
		})
	}

	_, err := f.router.SwapExactInput(f.state, trader, big.NewInt(0), tokenA, tokenA, uint256.NewInt(1), uint256.NewInt(0))
	require.ErrorIs(t, err, venue.ErrIdenticalTokens)
}

func TestFailingLegRevertsEarlierLegs(t *testing.T) {
	f := newFixture(t)

	// A constant-product SY/PT pool on venue 1
	pool := &cpamm.Pool{Address: common.HexToAddress("0x9101"), Token0: sy, Token1: pt, Fee: cpamm.Fee030}
	f.ledger.Mint(f.state, sy, provider, uint256.NewInt(1_000_000))
	f.ledger.Mint(f.state, pt, provider, uint256.NewInt(1_000_000))
	require.NoError(t, pool.AddLiquidity(f.state, f.ledger, provider, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000)))
	cp := cpamm.NewAdapter(common.HexToAddress("0x9001"), owner, f.ledger, f.logger)
	require.NoError(t, cp.AddPool(owner, pool))
	require.NoError(t, f.router.SetVenue(owner, 1, cp))

	// A maturity market on venue 3
	market := &maturity.Market{
		Address: common.HexToAddress("0x9301"),
		PT:      pt,
		SY:      sy,
		Expiry:  startTime + maturity.Year/2,
		Rate:    uint256.NewInt(maturity.WAD / 10),
		Fee:     3000,
	}
	f.ledger.Mint(f.state, pt, market.Address, uint256.NewInt(1_000_000))
	mat := maturity.NewAdapter(common.HexToAddress("0x9003"), owner, f.ledger, f.logger)
	require.NoError(t, mat.AddMarket(owner, maturity.PairConfig{Market: market, SlippageBps: 50}))
	require.NoError(t, f.router.SetVenue(owner, 3, mat))

	// Decode order runs venue 1 first, then venue 3
	rt := encode(t, route.Leg{Venue: 3, Weight: route.ONE / 2}, route.Leg{Venue: 1, Weight: route.ONE / 2})
	amountIn := uint256.NewInt(10_000)

	_, err := f.router.SwapExactInput(f.state, trader, rt, sy, pt, amountIn, uint256.NewInt(0))
	require.NoError(t, err)

	f.state.SetBlock(2, market.Expiry)
	syBefore, ptBefore := f.balance(sy, trader), f.balance(pt, trader)
	reserveSY, reservePT := pool.Reserves(f.state)

	_, err = f.router.SwapExactInput(f.state, trader, rt, sy, pt, amountIn, uint256.NewInt(0))
	require.ErrorIs(t, err, venue.ErrNotSupported)
	require.Equal(t, syBefore, f.balance(sy, trader))
	require.Equal(t, ptBefore, f.balance(pt, trader))
	r0, r1 := pool.Reserves(f.state)
	require.Equal(t, reserveSY, r0)
	require.Equal(t, reservePT, r1)
}

func TestSwapExactOutput(t *testing.T) {
	f := newFixture(t)
	f.addPool(1, 1_000_000, 1_000_000)
	f.addPool(2, 1_000_000, 1_000_000)
	single := encode(t, route.Leg{Venue: 1, Weight: route.ONE})

	_, err := f.router.SwapExactOutput(f.state, trader, single, tokenA, tokenB, uint256.NewInt(999), uint256.NewInt(996))
	require.ErrorIs(t, err, venue.ErrTooMuchRequested)
	require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))

	in, err := f.router.SwapExactOutput(f.state, trader, single, tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(996))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), in.Uint64())
	require.Equal(t, uint64(1_000_000_000+996), f.balance(tokenB, trader))

	// Even split over two identical fresh pools
	split := encode(t, route.Leg{Venue: 2, Weight: route.ONE / 2}, route.Leg{Venue: 1, Weight: route.ONE / 2})
	f2 := newFixture(t)
	f2.addPool(1, 1_000_000, 1_000_000)
	f2.addPool(2, 1_000_000, 1_000_000)
	in, err = f2.router.SwapExactOutput(f2.state, trader, split, tokenA, tokenB, uint256.NewInt(2000), uint256.NewInt(1992))
	require.NoError(t, err)
	require.Equal(t, uint64(2000), in.Uint64())
	require.Equal(t, uint64(1_000_000_000+1992), f2.balance(tokenB, trader))
	require.Equal(t, uint64(0), f2.balance(tokenA, f2.router.Address()))
}

// greedyAdapter collects one unit more than the cap it is given
type greedyAdapter struct {
	addr common.Address
}

func (g greedyAdapter) Kind() venue.Kind        { return venue.PMM }
func (g greedyAdapter) Address() common.Address { return g.addr }
func (g greedyAdapter) HasPair(contract.StateDB, common.Address, common.Address) bool {
	return true
}

func (g greedyAdapter) QuoteExactInput(contract.StateDB, common.Address, common.Address, *uint256.Int) (*uint256.Int, error) {
	return nil, venue.ErrNotSupported
}

func (g greedyAdapter) SwapExactInput(*venue.Context, common.Address, common.Address, *uint256.Int, *uint256.Int) (*uint256.Int, error) {
	return nil, errors.New("greedy adapter called")
}

func (g greedyAdapter) SwapExactOutput(ctx *venue.Context, tokenIn, _ common.Address, maxAmountIn, _ *uint256.Int) (*uint256.Int, error) {
	spend := new(uint256.Int).AddUint64(maxAmountIn, 1)
	ticket := ctx.Settler.Issue(g.addr, ctx.Payer, tokenIn, spend)
	if err := ctx.Settler.Redeem(ctx.State, g.addr, ticket, tokenIn, spend); err != nil {
		return nil, err
	}
	return spend, nil
}

func TestAggregateInputBound(t *testing.T) {
	f := newFixture(t)
	g := greedyAdapter{addr: common.HexToAddress("0x9009")}
	require.NoError(t, f.router.SetVenue(owner, 9, g))

	_, err := f.router.SwapExactOutput(f.state, trader, encode(t, route.Leg{Venue: 9, Weight: route.ONE}),
		tokenA, tokenB, uint256.NewInt(500), uint256.NewInt(100))
	require.ErrorIs(t, err, venue.ErrTooMuchRequested)
	require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))
	require.Equal(t, uint64(0), f.balance(tokenA, g.addr))
}

func TestZeroAmountLegSkipped(t *testing.T) {
	f := newFixture(t)
	f.addPool(1, 1_000_000, 1_000_000)
	require.NoError(t, f.router.SetVenue(owner, 9, greedyAdapter{addr: common.HexToAddress("0x9009")}))

	// One unit in: the first decoded leg (venue 9) floors to zero and is never called
	rt := encode(t, route.Leg{Venue: 1, Weight: route.ONE - 100}, route.Leg{Venue: 9, Weight: 100})
	out, err := f.router.SwapExactInput(f.state, trader, rt, tokenA, tokenB, uint256.NewInt(2), uint256.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.balance(tokenA, common.HexToAddress("0x9009")))
	require.Equal(t, uint64(1_000_000_000-2), f.balance(tokenA, trader))
	require.Equal(t, 1_000_000_000+out.Uint64(), f.balance(tokenB, trader))
}

// reentrantAdapter calls back into the router from inside a leg
type reentrantAdapter struct {
	greedyAdapter
	router *Router
}

func (r reentrantAdapter) SwapExactInput(ctx *venue.Context, tokenIn, tokenOut common.Address, amountIn, _ *uint256.Int) (*uint256.Int, error) {
	return r.router.SwapExactInput(ctx.State, r.addr, big.NewInt(0), tokenIn, tokenOut, amountIn, new(uint256.Int))
}

func TestReentrancy(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)
	require.NoError(t, f.router.SetVenue(owner, 4, reentrantAdapter{greedyAdapter{addr: common.HexToAddress("0x9004")}, f.router}))

	_, err := f.router.SwapExactInput(f.state, trader, encode(t, route.Leg{Venue: 4, Weight: route.ONE}),
		tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrReentrant)

	// The guard is released after the failed request
	_, err = f.router.SwapExactInput(f.state, trader, big.NewInt(0), tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(0))
	require.NoError(t, err)
}

func TestAdmin(t *testing.T) {
	f := newFixture(t)
	a := cpamm.NewAdapter(common.HexToAddress("0x9001"), owner, f.ledger, f.logger)

	require.ErrorIs(t, f.router.SetVenue(stranger, 1, a), ErrUnauthorized)
	require.NoError(t, f.router.SetVenue(owner, 1, a))
	got, ok := f.router.Venues().Get(1)
	require.True(t, ok)
	require.Equal(t, venue.ConstantProduct, got.Kind())

	require.ErrorIs(t, f.router.RemoveVenue(stranger, 1), ErrUnauthorized)
	require.ErrorIs(t, f.router.TransferOwnership(stranger, stranger), ErrUnauthorized)
	require.NoError(t, f.router.TransferOwnership(owner, stranger))
	require.ErrorIs(t, f.router.RemoveVenue(owner, 1), ErrUnauthorized)
	require.NoError(t, f.router.RemoveVenue(stranger, 1))
	require.Equal(t, 0, f.router.Venues().Len())
}

func TestQuotePrice(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)

	q, err := f.router.Quote(f.state, big.NewInt(0), tokenA, tokenB, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(996), q.AmountOut.Uint64())
	require.True(t, decimal.RequireFromString("0.996").Equal(q.Price), q.Price.String())

	// Quoting moves nothing
	require.Equal(t, uint64(1_000_000_000), f.balance(tokenA, trader))

	q, err = f.router.Quote(f.state, big.NewInt(0), tokenA, tokenB, uint256.NewInt(0))
	require.NoError(t, err)
	require.True(t, q.AmountOut.IsZero())
	require.True(t, q.Price.IsZero())
}

func TestSwapEvent(t *testing.T) {
	f := newFixture(t)
	f.addPool(0, 1_000_000, 1_000_000)

	out, err := f.router.SwapExactInput(f.state, trader, big.NewInt(0), tokenA, tokenB, uint256.NewInt(1000), uint256.NewInt(0))
	require.NoError(t, err)

	logs := f.state.Logs()
	last := logs[len(logs)-1]
	require.Equal(t, f.router.Address(), last.Address)
	require.Equal(t, RouterABI.Events["Swap"].ID, last.Topics[0])
	require.Equal(t, common.BytesToHash(trader.Bytes()), last.Topics[1])
	require.Equal(t, common.BytesToHash(tokenA.Bytes()), last.Topics[2])
	require.Equal(t, common.BytesToHash(tokenB.Bytes()), last.Topics[3])

	values, err := RouterABI.Events["Swap"].Inputs.NonIndexed().Unpack(last.Data)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), values[0])
	require.Equal(t, out.ToBig(), values[1])
}
