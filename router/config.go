// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

// RouterAddress is the default router account (LP-9012 LXRouter)
const RouterAddress = "0x0000000000000000000000000000000000009012"

// Gas costs
const (
	GasSwapBase uint64 = 30_000 // Decode, preflight and event
	GasPerLeg   uint64 = 60_000 // One venue call plus settlement
	GasQuote    uint64 = 5_000  // Per quoted leg
)

var (
	errZeroAddress = errors.New("router address is zero")
	errZeroOwner   = errors.New("router owner is zero")
)

// Config configures a Router
type Config struct {
	Address     common.Address `json:"address"`
	Owner       common.Address `json:"owner"`
	GasSwapBase uint64         `json:"gasSwapBase,omitempty"`
	GasPerLeg   uint64         `json:"gasPerLeg,omitempty"`
}

// DefaultConfig returns the config for the canonical router address.
// Owner must still be set.
func DefaultConfig() Config {
	return Config{
		Address:     common.HexToAddress(RouterAddress),
		GasSwapBase: GasSwapBase,
		GasPerLeg:   GasPerLeg,
	}
}

// ParseConfig reads a JSON config on top of DefaultConfig
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse router config: %w", err)
	}
	return cfg, cfg.Verify()
}

// Verify checks the config is usable
func (c *Config) Verify() error {
	if c.Address == (common.Address{}) {
		return errZeroAddress
	}
	if c.Owner == (common.Address{}) {
		return errZeroOwner
	}
	return nil
}

func (c *Config) Equal(other *Config) bool {
	if other == nil {
		return false
	}
	return c.Address == other.Address &&
		c.Owner == other.Owner &&
		c.GasSwapBase == other.GasSwapBase &&
		c.GasPerLeg == other.GasPerLeg
}

// swapGas is the gas charged for a swap over legs legs
func (c *Config) swapGas(legs int) uint64 {
	return c.GasSwapBase + c.GasPerLeg*uint64(legs)
}
