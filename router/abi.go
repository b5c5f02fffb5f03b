// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"strings"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

const routerABIJSON = `[
  {
    "type": "function",
    "name": "swapExactInput",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "route", "type": "uint256"},
      {"name": "tokenIn", "type": "address"},
      {"name": "tokenOut", "type": "address"},
      {"name": "amountIn", "type": "uint256"},
      {"name": "minAmountOut", "type": "uint256"}
    ],
    "outputs": [{"name": "amountOut", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "swapExactOutput",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "route", "type": "uint256"},
      {"name": "tokenIn", "type": "address"},
      {"name": "tokenOut", "type": "address"},
      {"name": "maxAmountIn", "type": "uint256"},
      {"name": "amountOut", "type": "uint256"}
    ],
    "outputs": [{"name": "amountIn", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "quoteExactInput",
    "stateMutability": "view",
    "inputs": [
      {"name": "route", "type": "uint256"},
      {"name": "tokenIn", "type": "address"},
      {"name": "tokenOut", "type": "address"},
      {"name": "amountIn", "type": "uint256"}
    ],
    "outputs": [{"name": "amountOut", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "Swap",
    "anonymous": false,
    "inputs": [
      {"name": "sender", "type": "address", "indexed": true},
      {"name": "tokenIn", "type": "address", "indexed": true},
      {"name": "tokenOut", "type": "address", "indexed": true},
      {"name": "amountIn", "type": "uint256", "indexed": false},
      {"name": "amountOut", "type": "uint256", "indexed": false},
      {"name": "route", "type": "uint256", "indexed": false}
    ]
  }
]`

// RouterABI is the router's call and event interface
var RouterABI = ParseABI(routerABIJSON)

// ExtendedABI adds output packing, input unpacking and event packing to the
// standard ABI.
type ExtendedABI struct {
	abi.ABI
}

// ParseABI parses raw ABI JSON, panicking on malformed input
func ParseABI(rawABI string) ExtendedABI {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return ExtendedABI{ABI: parsed}
}

// PackOutput packs args as the return value of method name, without selector
func (e ExtendedABI) PackOutput(name string, args ...interface{}) ([]byte, error) {
	method, ok := e.Methods[name]
	if !ok {
		return nil, fmt.Errorf("method '%s' not found", name)
	}
	return method.Outputs.Pack(args...)
}

// UnpackInput unpacks call data of method name, selector already stripped.
// Strict mode rejects data that is not a whole number of words.
func (e ExtendedABI) UnpackInput(name string, data []byte, strict bool) ([]interface{}, error) {
	method, ok := e.Methods[name]
	if !ok {
		return nil, fmt.Errorf("method '%s' not found", name)
	}
	if strict && len(data)%32 != 0 {
		return nil, fmt.Errorf("abi: improperly formatted input for %s: %d bytes", name, len(data))
	}
	return method.Inputs.Unpack(data)
}

// PackEvent returns the topics and data of event name
func (e ExtendedABI) PackEvent(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, ok := e.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("event '%s' not found", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event '%s' unexpected number of inputs %d", name, len(args))
	}

	var (
		data     []interface{}
		dataArgs abi.Arguments
		topics   = make([]common.Hash, 0, len(event.Inputs)+1)
	)
	if !event.Anonymous {
		topics = append(topics, event.ID)
	}
	for i, arg := range event.Inputs {
		if !arg.Indexed {
			dataArgs = append(dataArgs, arg)
			data = append(data, args[i])
			continue
		}
		topic, err := packTopic(args[i])
		if err != nil {
			return nil, nil, fmt.Errorf("event '%s' arg %s: %w", name, arg.Name, err)
		}
		topics = append(topics, topic)
	}

	packed, err := dataArgs.Pack(data...)
	if err != nil {
		return nil, nil, err
	}
	return topics, packed, nil
}

// packTopic packs a single indexed argument into a topic hash
func packTopic(value interface{}) (common.Hash, error) {
	addr, ok := value.(common.Address)
	if !ok {
		return common.Hash{}, fmt.Errorf("unsupported indexed type: %T", value)
	}
	return common.BytesToHash(addr.Bytes()), nil
}
