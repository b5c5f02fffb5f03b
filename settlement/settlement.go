// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settlement implements deferred, single-use payment pulls.
//
// The router never holds a balance. Before a venue is invoked a Ticket is
// issued for the input leg; the venue calls back mid-swap to redeem it and
// the Settler pulls the amount straight from the payer to the venue. A
// ticket names the one venue allowed to redeem it and can be redeemed once.
package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swaprouter/contract"
)

// ErrReverted is returned for every rejected redemption. It carries no
// reason so a probing caller learns nothing about the in-flight call.
var ErrReverted = errors.New("execution reverted")

// Ledger is the token capability the settler pulls through
type Ledger interface {
	TransferFrom(state contract.StateDB, token, spender, from, to common.Address, amount *uint256.Int) error
}

// Ticket authorizes one venue to pull one amount of one token from one payer.
type Ticket struct {
	id     [32]byte
	venue  common.Address
	payer  common.Address
	token  common.Address
	amount *uint256.Int
	spent  bool
}

// ID identifies the ticket in logs
func (t *Ticket) ID() [32]byte { return t.id }

func (t *Ticket) Venue() common.Address { return t.venue }
func (t *Ticket) Payer() common.Address { return t.payer }
func (t *Ticket) Token() common.Address { return t.token }
func (t *Ticket) Amount() *uint256.Int  { return t.amount.Clone() }

// Redeemed reports whether the venue has collected payment
func (t *Ticket) Redeemed() bool { return t.spent }

// Settler issues and redeems tickets as the payer's approved spender.
type Settler struct {
	ledger  Ledger
	spender common.Address
	nonce   uint64
}

// NewSettler creates a settler pulling through ledger as spender
func NewSettler(ledger Ledger, spender common.Address) *Settler {
	return &Settler{ledger: ledger, spender: spender}
}

// Spender is the address payers approve on the ledger
func (s *Settler) Spender() common.Address { return s.spender }

// Issue creates a ticket for venue to collect amount of token from payer.
// It must be called immediately before the venue is invoked.
func (s *Settler) Issue(venue, payer, token common.Address, amount *uint256.Int) *Ticket {
	s.nonce++

	h := blake3.New()
	h.Write(s.spender.Bytes())
	h.Write(venue.Bytes())
	h.Write(payer.Bytes())
	h.Write(token.Bytes())
	amt := amount.Bytes32()
	h.Write(amt[:])
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.nonce)
	h.Write(nonce[:])

	t := &Ticket{
		venue:  venue,
		payer:  payer,
		token:  token,
		amount: amount.Clone(),
	}
	h.Digest().Read(t.id[:])
	return t
}

// Redeem is the venue's payment callback. caller is the address making the
// callback; it must be the venue the ticket was issued for.
func (s *Settler) Redeem(
	state contract.StateDB,
	caller common.Address,
	t *Ticket,
	token common.Address,
	amount *uint256.Int,
) error {
	if t == nil || t.spent || caller != t.venue {
		return ErrReverted
	}
	if token != t.token || amount == nil || !amount.Eq(t.amount) {
		return ErrReverted
	}

	// Spend before the pull so a reentrant redeem sees a used ticket
	t.spent = true
	if err := s.ledger.TransferFrom(state, t.token, s.spender, t.payer, t.venue, t.amount); err != nil {
		t.spent = false
		return fmt.Errorf("settle %x: %w", t.id[:4], err)
	}
	return nil
}
