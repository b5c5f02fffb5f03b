// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract defines the state surface every router component runs
// against. It mirrors the subset of the EVM StateDB used by stateful
// precompiles: storage slots, native balances, logs, snapshots and the
// current block context.
package contract

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/luxfi/geth/core/types"
)

// StateDB is the interface for accessing and modifying chain state.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason)
	SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason)

	AddLog(log *types.Log)

	// Snapshot returns an identifier for the current revision of the state.
	// RevertToSnapshot undoes every change made after that revision.
	Snapshot() int
	RevertToSnapshot(revid int)

	GetBlockNumber() uint64
	GetBlockTimestamp() uint64
}
