package swap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
)

// PoolSource lists the pool snapshots a converter may route through.
type PoolSource interface {
	PoolSnapshots() ([]PoolState, error)
}

// PoolConverter converts amounts between tokens by quoting the first known
// pool that holds both assets. Results are rounded down and inherit the
// simulator's approximation.
type PoolConverter struct {
	tokens map[string]common.Address
	pools  PoolSource
}

// NewPoolConverter builds a converter from a symbol to address registry.
func NewPoolConverter(tokens map[string]common.Address, pools PoolSource) *PoolConverter {
	registry := make(map[string]common.Address, len(tokens))
	for symbol, addr := range tokens {
		registry[strings.ToUpper(strings.TrimSpace(symbol))] = addr
	}
	return &PoolConverter{tokens: registry, pools: pools}
}

// Convert prices amount of from in units of to.
func (c *PoolConverter) Convert(amount *big.Int, from, to string) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: conversion amount must be non-negative", coreerrors.ErrInvalidAmount)
	}
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return new(big.Int).Set(amount), nil
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if c == nil || c.pools == nil {
		return nil, fmt.Errorf("%w: %s -> %s", coreerrors.ErrConversionUnavailable, from, to)
	}
	fromAddr, ok := c.tokens[from]
	if !ok {
		return nil, fmt.Errorf("%w: token %s not registered", coreerrors.ErrConversionUnavailable, from)
	}
	toAddr, ok := c.tokens[to]
	if !ok {
		return nil, fmt.Errorf("%w: token %s not registered", coreerrors.ErrConversionUnavailable, to)
	}
	pools, err := c.pools.PoolSnapshots()
	if err != nil {
		return nil, err
	}
	for _, pool := range pools {
		if !pool.Has(fromAddr) || !pool.Has(toAddr) {
			continue
		}
		direction := ZeroForOne
		if pool.Token1 == fromAddr {
			direction = OneForZero
		}
		quote, err := QuoteExactInputSingle(pool, amount, direction)
		if err != nil {
			return nil, fmt.Errorf("%w: %s -> %s: %v", coreerrors.ErrConversionUnavailable, from, to, err)
		}
		return quote.AmountOut, nil
	}
	return nil, fmt.Errorf("%w: no pool for %s/%s", coreerrors.ErrConversionUnavailable, from, to)
}
