// Package assets holds the registry of currencies the paywall can quote
// prices in. The registry is populated once at startup and is the single
// source of truth for supported assets: price validation, atomic-unit
// conversion, and payment-requirement derivation all consult it.
package assets

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDecimals is the largest supported token precision.
const MaxDecimals = 18

// ErrUnknownAsset indicates a symbol not present in the registry.
// This is a client error, never a fatal one.
var ErrUnknownAsset = errors.New("assets: unknown asset")

// AssetInfo describes one supported currency.
type AssetInfo struct {
	// Symbol is the currency symbol (e.g., "USDC"). Unique within the registry.
	Symbol string

	// Address is the token contract address (EVM) or mint address (Solana).
	Address string

	// Decimals is the number of decimal places for the token's atomic units.
	Decimals uint8
}

// Registry maps currency symbols to their on-chain identity.
// Read-only after construction.
type Registry struct {
	assets       map[string]AssetInfo
	defaultAsset string
}

// NewRegistry builds a registry from the given assets. The first asset is
// the default, used to settle flat dollar-denominated prices. Symbols are
// uppercased; duplicates and out-of-range decimals are rejected.
func NewRegistry(infos []AssetInfo) (*Registry, error) {
	if len(infos) == 0 {
		return nil, errors.New("assets: registry requires at least one asset")
	}

	assets := make(map[string]AssetInfo, len(infos))
	var defaultAsset string
	for _, info := range infos {
		symbol := strings.ToUpper(strings.TrimSpace(info.Symbol))
		if symbol == "" {
			return nil, errors.New("assets: asset symbol cannot be empty")
		}
		if info.Address == "" {
			return nil, fmt.Errorf("assets: asset %s has no address", symbol)
		}
		if info.Decimals > MaxDecimals {
			return nil, fmt.Errorf("assets: asset %s decimals %d out of range [0, %d]", symbol, info.Decimals, MaxDecimals)
		}
		if _, exists := assets[symbol]; exists {
			return nil, fmt.Errorf("assets: duplicate asset symbol %s", symbol)
		}

		info.Symbol = symbol
		assets[symbol] = info
		if defaultAsset == "" {
			defaultAsset = symbol
		}
	}

	return &Registry{assets: assets, defaultAsset: defaultAsset}, nil
}

// Lookup returns the AssetInfo for a symbol, or ErrUnknownAsset.
// Symbols are matched case-insensitively.
func (r *Registry) Lookup(symbol string) (AssetInfo, error) {
	info, ok := r.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return info, nil
}

// Default returns the asset flat prices settle in.
func (r *Registry) Default() AssetInfo {
	return r.assets[r.defaultAsset]
}

// Symbols returns the registered symbols. Order is unspecified.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.assets))
	for symbol := range r.assets {
		symbols = append(symbols, symbol)
	}
	return symbols
}
