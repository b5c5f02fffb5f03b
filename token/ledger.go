// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the fungible token ledger the router settles
// against. Contract tokens keep balances and allowances in their own storage
// slots; the zero address is native LUX, held in account balances.
package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/luxfi/geth/core/types"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swaprouter/contract"
)

// Native is the address used for native LUX
var Native = common.Address{}

// MaxAllowance is treated as an unlimited approval and never decremented
var MaxAllowance = new(uint256.Int).SetAllOne()

// Storage key prefixes
var (
	balancePrefix   = []byte("bal")
	allowancePrefix = []byte("alw")
)

// Event topics
var (
	TransferTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))
	ApprovalTopic = common.BytesToHash(crypto.Keccak256([]byte("Approval(address,address,uint256)")))
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger moves balances on behalf of holders and approved spenders.
// It holds no state of its own.
type Ledger struct{}

// NewLedger returns a ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// BalanceOf returns the balance of holder in token
func (l *Ledger) BalanceOf(state contract.StateDB, token, holder common.Address) *uint256.Int {
	if token == Native {
		return state.GetBalance(holder)
	}
	h := state.GetState(token, slotKey(balancePrefix, holder.Bytes()))
	return new(uint256.Int).SetBytes32(h[:])
}

// Mint credits amount of token to holder out of thin air.
// Used for genesis allocations and tests.
func (l *Ledger) Mint(state contract.StateDB, token, to common.Address, amount *uint256.Int) {
	if token == Native {
		state.AddBalance(to, amount, tracing.BalanceChangeUnspecified)
	} else {
		bal := l.BalanceOf(state, token, to)
		l.setBalance(state, token, to, bal.Add(bal, amount))
	}
	l.emit(state, token, TransferTopic, common.Address{}, to, amount)
}

// Transfer moves amount of token from holder to recipient on the holder's instruction.
func (l *Ledger) Transfer(state contract.StateDB, token, from, to common.Address, amount *uint256.Int) error {
	bal := l.BalanceOf(state, token, from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: token=%s holder=%s have=%s want=%s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), bal, amount)
	}

	if token == Native {
		state.SubBalance(from, amount, tracing.BalanceChangeTransfer)
		state.AddBalance(to, amount, tracing.BalanceChangeTransfer)
	} else {
		l.setBalance(state, token, from, bal.Sub(bal, amount))
		dst := l.BalanceOf(state, token, to)
		l.setBalance(state, token, to, dst.Add(dst, amount))
	}
	l.emit(state, token, TransferTopic, from, to, amount)
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(state contract.StateDB, token, owner, spender common.Address, amount *uint256.Int) {
	key := slotKey(allowancePrefix, owner.Bytes(), spender.Bytes())
	state.SetState(token, key, common.Hash(amount.Bytes32()))
	l.emit(state, token, ApprovalTopic, owner, spender, amount)
}

// Allowance returns the remaining amount spender may move out of owner's balance.
func (l *Ledger) Allowance(state contract.StateDB, token, owner, spender common.Address) *uint256.Int {
	h := state.GetState(token, slotKey(allowancePrefix, owner.Bytes(), spender.Bytes()))
	return new(uint256.Int).SetBytes32(h[:])
}

// TransferFrom moves amount of token from holder to recipient on the
// instruction of a spender the holder approved.
func (l *Ledger) TransferFrom(state contract.StateDB, token, spender, from, to common.Address, amount *uint256.Int) error {
	allowance := l.Allowance(state, token, from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: token=%s owner=%s spender=%s have=%s want=%s",
			ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowance, amount)
	}
	if err := l.Transfer(state, token, from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(MaxAllowance) {
		key := slotKey(allowancePrefix, from.Bytes(), spender.Bytes())
		state.SetState(token, key, common.Hash(allowance.Sub(allowance, amount).Bytes32()))
	}
	return nil
}

func (l *Ledger) setBalance(state contract.StateDB, token, holder common.Address, bal *uint256.Int) {
	state.SetState(token, slotKey(balancePrefix, holder.Bytes()), common.Hash(bal.Bytes32()))
}

func (l *Ledger) emit(state contract.StateDB, token common.Address, topic common.Hash, from, to common.Address, amount *uint256.Int) {
	data := amount.Bytes32()
	state.AddLog(&types.Log{
		Address: token,
		Topics:  []common.Hash{topic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    data[:],
	})
}

// slotKey creates a storage key from prefix and identifiers
func slotKey(prefix []byte, ids ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}
