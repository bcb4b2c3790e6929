package x402

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// Well-known CAIP-2 network identifiers.
const (
	// EVM
	NetworkBase        = "eip155:8453"
	NetworkBaseSepolia = "eip155:84532"

	// Solana (genesis hash as reference per CAIP-2)
	NetworkSolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
)

// ValidateNetwork validates a CAIP-2 network identifier and returns its type.
// Returns NetworkTypeEVM for EIP-155 chains, NetworkTypeSVM for Solana chains,
// or NetworkTypeUnknown with an error for unrecognized networks.
func ValidateNetwork(network string) (NetworkType, error) {
	if network == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}

	// Parse CAIP-2 format: namespace:reference
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 {
		return NetworkTypeUnknown, fmt.Errorf("%w: invalid CAIP-2 format: %s", ErrInvalidNetwork, network)
	}

	namespace := parts[0]
	reference := parts[1]

	if reference == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: missing network reference: %s", ErrInvalidNetwork, network)
	}

	switch namespace {
	case "eip155":
		// The reference must be a numeric chain ID
		if _, err := strconv.ParseInt(reference, 10, 64); err != nil {
			return NetworkTypeUnknown, fmt.Errorf("%w: invalid EIP-155 chain ID: %s", ErrInvalidNetwork, reference)
		}
		return NetworkTypeEVM, nil
	case "solana":
		// The reference is a truncated base58 genesis hash
		if len(reference) < 32 || len(reference) > 44 {
			return NetworkTypeUnknown, fmt.Errorf("%w: invalid Solana genesis hash length: %s", ErrInvalidNetwork, reference)
		}
		return NetworkTypeSVM, nil
	default:
		return NetworkTypeUnknown, fmt.Errorf("%w: unsupported namespace: %s", ErrInvalidNetwork, namespace)
	}
}

// ValidateAddress checks that a payment address is well-formed for the given
// CAIP-2 network: a hex EVM address for eip155 chains, a base58 public key
// for Solana chains. Used at startup on the configured recipient address so a
// misconfigured treasury fails fast instead of producing unpayable challenges.
func ValidateAddress(address, network string) error {
	if address == "" {
		return fmt.Errorf("%w: address cannot be empty", ErrInvalidAddress)
	}

	networkType, err := ValidateNetwork(network)
	if err != nil {
		return err
	}

	switch networkType {
	case NetworkTypeEVM:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: %q is not a valid EVM address", ErrInvalidAddress, address)
		}
	case NetworkTypeSVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("%w: %q is not a valid Solana address: %v", ErrInvalidAddress, address, err)
		}
	default:
		return fmt.Errorf("%w: cannot validate address for network %s", ErrInvalidNetwork, network)
	}
	return nil
}
