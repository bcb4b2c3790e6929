// Package pricing validates incoming price specifications and translates
// them into concrete on-chain payment requirements.
//
// A price is either flat (a pre-formatted dollar string or number, settled
// in the registry's default asset) or dynamic ({price, asset} naming a
// registered currency). Dynamic amounts are rounded to 2 decimal places
// before atomic-unit conversion; all money math runs on big.Rat so no
// binary floating point touches the quoted or verified amounts.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/friends4payments/dory-x402-gemini/internal/assets"
	"github.com/friends4payments/dory-x402-gemini/internal/x402"
)

// Scheme is the x402 payment scheme quoted by this service.
const Scheme = "exact"

var (
	// ErrMalformedBody indicates an order body that is not a JSON object.
	ErrMalformedBody = errors.New("pricing: order body is not a JSON object")

	// ErrInvalidPrice indicates a missing price, an unparseable amount, or an
	// unsupported asset.
	ErrInvalidPrice = errors.New("pricing: invalid price")
)

// Price is a validated price specification.
type Price struct {
	// Amount is the decimal price. Never nil on a parsed Price.
	Amount *big.Rat

	// Asset is the registered currency symbol for dynamic prices.
	// Empty for flat prices, which settle in the registry default asset.
	Asset string
}

// Flat reports whether the price carries no asset of its own.
func (p Price) Flat() bool {
	return p.Asset == ""
}

// ParsePrice validates the price specification of a raw order body.
// Returns ErrMalformedBody if the body is not a JSON object and
// ErrInvalidPrice if the price is missing or unparseable. Asset membership
// is checked later, against the registry, in Resolver.Requirement.
func ParsePrice(body []byte) (Price, error) {
	var order map[string]json.RawMessage
	if err := json.Unmarshal(body, &order); err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	// The JSON literal null decodes into a nil map without error.
	if order == nil {
		return Price{}, fmt.Errorf("%w: body is null", ErrMalformedBody)
	}

	priceRaw, ok := order["price"]
	if !ok || string(priceRaw) == "null" {
		return Price{}, fmt.Errorf("%w: price is required", ErrInvalidPrice)
	}

	amount, err := parseAmount(priceRaw)
	if err != nil {
		return Price{}, err
	}

	price := Price{Amount: amount}
	if assetRaw, ok := order["asset"]; ok && string(assetRaw) != "null" {
		var symbol string
		if err := json.Unmarshal(assetRaw, &symbol); err != nil {
			return Price{}, fmt.Errorf("%w: asset must be a string", ErrInvalidPrice)
		}
		price.Asset = symbol
	}

	return price, nil
}

// ParseFlatPrice parses a configured flat price string such as "$0.01" or
// "0.25" into a Price settled in the registry default asset.
func ParseFlatPrice(s string) (Price, error) {
	amount, ok := new(big.Rat).SetString(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$")))
	if !ok {
		return Price{}, fmt.Errorf("%w: cannot parse flat price %q", ErrInvalidPrice, s)
	}
	if amount.Sign() < 0 {
		return Price{}, fmt.Errorf("%w: flat price cannot be negative", ErrInvalidPrice)
	}
	return Price{Amount: amount}, nil
}

// parseAmount parses a JSON price value, either a number literal or a
// string like "0.01" or "$0.01", into a non-negative rational.
func parseAmount(raw json.RawMessage) (*big.Rat, error) {
	literal := string(raw)
	if strings.HasPrefix(literal, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
		}
		literal = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	}

	amount, ok := new(big.Rat).SetString(literal)
	if !ok {
		return nil, fmt.Errorf("%w: cannot parse amount %q", ErrInvalidPrice, literal)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount cannot be negative", ErrInvalidPrice)
	}
	return amount, nil
}

// Resolver derives concrete payment requirements from validated prices.
// Immutable after construction; safe for concurrent use.
type Resolver struct {
	registry          *assets.Registry
	payTo             string
	network           string
	maxTimeoutSeconds int
}

// NewResolver returns a Resolver quoting payments to payTo on the given
// CAIP-2 network.
func NewResolver(registry *assets.Registry, payTo, network string, maxTimeoutSeconds int) *Resolver {
	if maxTimeoutSeconds <= 0 {
		maxTimeoutSeconds = 60
	}
	return &Resolver{
		registry:          registry,
		payTo:             payTo,
		network:           network,
		maxTimeoutSeconds: maxTimeoutSeconds,
	}
}

// Requirement translates a Price into the payment requirement handed to the
// verifier. Dynamic prices must name a registered asset; flat prices settle
// in the registry default. Returns an error wrapping ErrInvalidPrice for
// unsupported assets.
func (r *Resolver) Requirement(price Price) (x402.PaymentRequirements, error) {
	var info assets.AssetInfo
	if price.Flat() {
		info = r.registry.Default()
	} else {
		var err error
		info, err = r.registry.Lookup(price.Asset)
		if err != nil {
			return x402.PaymentRequirements{}, fmt.Errorf("%w: unsupported asset %q", ErrInvalidPrice, price.Asset)
		}
	}

	return x402.PaymentRequirements{
		Scheme:            Scheme,
		Network:           r.network,
		Amount:            AtomicAmount(price.Amount, info.Decimals),
		Asset:             info.Address,
		PayTo:             r.payTo,
		MaxTimeoutSeconds: r.maxTimeoutSeconds,
	}, nil
}

// AtomicAmount converts a decimal amount to atomic units of an asset with
// the given precision, returned as a base-10 integer string. The amount is
// first rounded to 2 decimal places (monetary rounding, half away from
// zero) and then scaled by 10^decimals.
func AtomicAmount(amount *big.Rat, decimals uint8) string {
	// Round to cents first: the quote is money, not token precision.
	cents := roundRat(new(big.Rat).Mul(amount, big.NewRat(100, 1)))

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	atomic := new(big.Rat).SetFrac(new(big.Int).Mul(cents, scale), big.NewInt(100))
	return roundRat(atomic).String()
}

// roundRat rounds a rational to the nearest integer, half away from zero.
func roundRat(x *big.Rat) *big.Int {
	num := new(big.Int).Set(x.Num())
	den := x.Denom()

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	rem.Abs(rem)
	rem.Lsh(rem, 1) // 2*|rem|
	if rem.Cmp(den) >= 0 {
		if x.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return quo
}
