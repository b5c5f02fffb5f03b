// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package route encodes a split swap route into a single unsigned integer.
//
// Bit layout, most significant first:
//
//	[venue_1:6][weight_1:16] ... [venue_n:6][weight_n:16][count:4]
//
// The first encoded leg sits in the highest bits and the leg count in the
// low nibble. Weights are fractions of the total trade over ONE. The value
// 0 is shorthand for the whole amount through venue 0.
package route

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// ONE is the weight denominator; leg weights must sum to it
	ONE = 1 << 15

	// MaxLegs bounds the decoded leg count. The count field is four bits
	// wide, so an encodable route carries at most 15 legs.
	MaxLegs = 16

	// MaxVenue is the largest venue id (6 bits)
	MaxVenue = 1<<venueBits - 1

	countBits  = 4
	weightBits = 16
	venueBits  = 6

	countMask  = 1<<countBits - 1
	weightMask = 1<<weightBits - 1
	venueMask  = 1<<venueBits - 1
)

var (
	ErrWrongSwapsNumber = errors.New("wrong swaps number")
	ErrWrongSwapRatios  = errors.New("wrong swap ratios")
	ErrInvalidVenue     = errors.New("invalid venue id")
)

// Leg is one proportional slice of a routed trade
type Leg struct {
	Venue  uint8  // Venue id (0..63)
	Weight uint16 // Share of the total, over ONE
}

// LegAmount is a decoded leg with its apportioned amounts
type LegAmount struct {
	Venue     uint8
	Weight    uint16
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// Encode packs legs into a route value.
// The weight sum is not checked here; Decode rejects unbalanced routes.
func Encode(legs []Leg) (*big.Int, error) {
	if len(legs) == 0 || len(legs) > countMask {
		return nil, fmt.Errorf("%w: %d legs", ErrWrongSwapsNumber, len(legs))
	}

	acc := new(big.Int)
	for i, leg := range legs {
		if leg.Venue > MaxVenue {
			return nil, fmt.Errorf("%w: leg %d venue %d", ErrInvalidVenue, i, leg.Venue)
		}
		if leg.Weight == 0 {
			return nil, fmt.Errorf("%w: leg %d has zero weight", ErrWrongSwapRatios, i)
		}
		acc.Lsh(acc, venueBits).Or(acc, big.NewInt(int64(leg.Venue)))
		acc.Lsh(acc, weightBits).Or(acc, big.NewInt(int64(leg.Weight)))
	}
	acc.Lsh(acc, countBits).Or(acc, big.NewInt(int64(len(legs))))
	return acc, nil
}

// Legs decodes the structure of a route without apportioning amounts.
// Legs come back in decode order, which is the reverse of encode order.
func Legs(route *big.Int) ([]Leg, error) {
	if route == nil || route.Sign() == 0 {
		return []Leg{{Venue: 0, Weight: ONE}}, nil
	}
	if route.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative route", ErrWrongSwapsNumber)
	}

	count := int(lowBits(route, countMask))
	if count == 0 || count > MaxLegs {
		return nil, fmt.Errorf("%w: count %d", ErrWrongSwapsNumber, count)
	}

	rest := new(big.Int).Rsh(route, countBits)
	legs := make([]Leg, 0, count)
	var total uint32
	for i := 0; i < count; i++ {
		weight := uint16(lowBits(rest, weightMask))
		rest.Rsh(rest, weightBits)
		venue := uint8(lowBits(rest, venueMask))
		rest.Rsh(rest, venueBits)

		// Zero-weight legs are rejected anywhere in the route, even when the
		// remaining weights still sum to ONE. Encode never emits one, so a
		// zero weight means the count reaches past the populated bits.
		if weight == 0 {
			return nil, fmt.Errorf("%w: count %d exceeds payload", ErrWrongSwapsNumber, count)
		}
		legs = append(legs, Leg{Venue: venue, Weight: weight})
		total += uint32(weight)
	}
	if rest.Sign() != 0 {
		return nil, fmt.Errorf("%w: trailing bits after %d legs", ErrWrongSwapsNumber, count)
	}
	if total != ONE {
		return nil, fmt.Errorf("%w: weights sum to %d", ErrWrongSwapRatios, total)
	}
	return legs, nil
}

// Decode decodes a route and splits totalIn and totalOut across its legs.
// Each leg gets floor(total * weight / ONE); the last leg absorbs the
// rounding remainder so the leg amounts always sum to the totals.
func Decode(route *big.Int, totalIn, totalOut *uint256.Int) ([]LegAmount, error) {
	if route == nil || route.Sign() == 0 {
		return []LegAmount{{
			Venue:     0,
			Weight:    ONE,
			AmountIn:  totalIn.Clone(),
			AmountOut: totalOut.Clone(),
		}}, nil
	}

	legs, err := Legs(route)
	if err != nil {
		return nil, err
	}

	var (
		out     = make([]LegAmount, len(legs))
		one     = uint256.NewInt(ONE)
		sumIn   = new(uint256.Int)
		sumOut  = new(uint256.Int)
		lastIdx = len(legs) - 1
	)
	for i, leg := range legs {
		out[i] = LegAmount{Venue: leg.Venue, Weight: leg.Weight}
		if i == lastIdx {
			out[i].AmountIn = new(uint256.Int).Sub(totalIn, sumIn)
			out[i].AmountOut = new(uint256.Int).Sub(totalOut, sumOut)
			break
		}
		weight := uint256.NewInt(uint64(leg.Weight))
		// weight <= ONE here, so the quotient never exceeds the total
		out[i].AmountIn, _ = new(uint256.Int).MulDivOverflow(totalIn, weight, one)
		out[i].AmountOut, _ = new(uint256.Int).MulDivOverflow(totalOut, weight, one)
		sumIn.Add(sumIn, out[i].AmountIn)
		sumOut.Add(sumOut, out[i].AmountOut)
	}
	return out, nil
}

func lowBits(x *big.Int, mask uint64) uint64 {
	return new(big.Int).And(x, new(big.Int).SetUint64(mask)).Uint64()
}
