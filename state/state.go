// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides a journaled StateDB kept in memory on top of a
// luxfi/database key/value store. Writes stay in the overlay until Commit,
// and every mutation is journaled so a failed request can be rolled back to
// a snapshot.
package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/swaprouter/contract"
)

var _ contract.StateDB = (*State)(nil)

// Key prefixes in the backing database
var (
	storagePrefix = []byte("s")
	balancePrefix = []byte("b")
)

var ErrInvalidRevision = errors.New("invalid snapshot revision")

type revision struct {
	id           int
	journalIndex int
}

// State is a journaled, in-memory StateDB.
type State struct {
	db database.Database

	// overlay of uncommitted writes
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
	logs     []*types.Log

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int

	blockNumber    uint64
	blockTimestamp uint64

	// dbErr is the first backing store error seen on a read. StateDB
	// accessors cannot fail, so it is reported by Error and Commit.
	dbErr error
}

// New creates a state over the given database.
func New(db database.Database) *State {
	return &State{
		db:       db,
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
	}
}

// SetBlock sets the block context seen by GetBlockNumber and GetBlockTimestamp.
func (s *State) SetBlock(number, timestamp uint64) {
	s.blockNumber = number
	s.blockTimestamp = timestamp
}

func (s *State) GetBlockNumber() uint64    { return s.blockNumber }
func (s *State) GetBlockTimestamp() uint64 { return s.blockTimestamp }

// Error returns the first error hit while reading the backing database.
func (s *State) Error() error { return s.dbErr }

func (s *State) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// =========================================================================
// Storage
// =========================================================================

func (s *State) GetState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := s.storage[addr]; ok {
		if value, ok := slots[key]; ok {
			return value
		}
	}
	raw, err := s.db.Get(storageKey(addr, key))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.setError(fmt.Errorf("read slot %s/%s: %w", addr.Hex(), key.Hex(), err))
		}
		return common.Hash{}
	}
	return common.BytesToHash(raw)
}

func (s *State) SetState(addr common.Address, key common.Hash, value common.Hash) {
	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	prev, dirty := slots[key]
	s.journal = append(s.journal, storageChange{addr: addr, key: key, prev: prev, dirty: dirty})
	slots[key] = value
}

// =========================================================================
// Native balances
// =========================================================================

func (s *State) GetBalance(addr common.Address) *uint256.Int {
	return s.balance(addr).Clone()
}

func (s *State) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) {
	s.setBalance(addr, new(uint256.Int).Add(s.balance(addr), amount))
}

func (s *State) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) {
	s.setBalance(addr, new(uint256.Int).Sub(s.balance(addr), amount))
}

func (s *State) balance(addr common.Address) *uint256.Int {
	if bal, ok := s.balances[addr]; ok {
		return bal
	}
	raw, err := s.db.Get(balanceKey(addr))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.setError(fmt.Errorf("read balance %s: %w", addr.Hex(), err))
		}
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(raw)
}

func (s *State) setBalance(addr common.Address, bal *uint256.Int) {
	prev, dirty := s.balances[addr]
	s.journal = append(s.journal, balanceChange{addr: addr, prev: prev, dirty: dirty})
	s.balances[addr] = bal
}

// =========================================================================
// Logs
// =========================================================================

func (s *State) AddLog(log *types.Log) {
	log.BlockNumber = s.blockNumber
	log.Index = uint(len(s.logs))
	s.journal = append(s.journal, logChange{})
	s.logs = append(s.logs, log)
}

// Logs returns the logs emitted since the last Commit.
func (s *State) Logs() []*types.Log {
	return s.logs
}

// =========================================================================
// Snapshots
// =========================================================================

func (s *State) Snapshot() int {
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id: id, journalIndex: len(s.journal)})
	return id
}

func (s *State) RevertToSnapshot(revid int) {
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("%w: %d", ErrInvalidRevision, revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	for i := len(s.journal) - 1; i >= snapshot; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:snapshot]
	s.validRevisions = s.validRevisions[:idx]
}

// =========================================================================
// Commit
// =========================================================================

// Commit flushes the overlay to the backing database and clears the journal.
// Snapshots taken before Commit are no longer valid.
func (s *State) Commit() error {
	if s.dbErr != nil {
		return s.dbErr
	}

	batch := s.db.NewBatch()
	for addr, slots := range s.storage {
		for key, value := range slots {
			var err error
			if value == (common.Hash{}) {
				err = batch.Delete(storageKey(addr, key))
			} else {
				err = batch.Put(storageKey(addr, key), value.Bytes())
			}
			if err != nil {
				return err
			}
		}
	}
	for addr, bal := range s.balances {
		var err error
		if bal.IsZero() {
			err = batch.Delete(balanceKey(addr))
		} else {
			err = batch.Put(balanceKey(addr), bal.Bytes())
		}
		if err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}

	s.storage = make(map[common.Address]map[common.Hash]common.Hash)
	s.balances = make(map[common.Address]*uint256.Int)
	s.logs = nil
	s.journal = nil
	s.validRevisions = nil
	return nil
}

func storageKey(addr common.Address, key common.Hash) []byte {
	out := make([]byte, 0, len(storagePrefix)+common.AddressLength+common.HashLength)
	out = append(out, storagePrefix...)
	out = append(out, addr.Bytes()...)
	return append(out, key.Bytes()...)
}

func balanceKey(addr common.Address) []byte {
	out := make([]byte, 0, len(balancePrefix)+common.AddressLength)
	out = append(out, balancePrefix...)
	return append(out, addr.Bytes()...)
}

// =========================================================================
// Journal
// =========================================================================

type journalEntry interface {
	revert(s *State)
}

type storageChange struct {
	addr  common.Address
	key   common.Hash
	prev  common.Hash
	dirty bool
}

func (c storageChange) revert(s *State) {
	if c.dirty {
		s.storage[c.addr][c.key] = c.prev
		return
	}
	delete(s.storage[c.addr], c.key)
}

type balanceChange struct {
	addr  common.Address
	prev  *uint256.Int
	dirty bool
}

func (c balanceChange) revert(s *State) {
	if c.dirty {
		s.balances[c.addr] = c.prev
		return
	}
	delete(s.balances, c.addr)
}

type logChange struct{}

func (logChange) revert(s *State) {
	s.logs = s.logs[:len(s.logs)-1]
}
