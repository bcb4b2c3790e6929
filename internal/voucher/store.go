// Package voucher manages one-time-redeemable order vouchers.
//
// A voucher maps an opaque UUIDv4 token to the order payload it was paid
// for. It is created exactly once per verified payment and deleted
// atomically with the read that redeems it, so only one caller can ever
// observe the order.
package voucher

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates a token that was never issued or is already
// redeemed. Callers cannot distinguish the two cases.
var ErrNotFound = errors.New("voucher: not found")

// NewToken mints a fresh voucher token. Collisions are not defended
// against; UUIDv4 makes them negligible.
func NewToken() string {
	return uuid.NewString()
}

// Store is a durable key-value store for vouchers.
type Store interface {
	// Put stores the order under the token. The token must be
	// freshly minted.
	Put(ctx context.Context, token string, order []byte) error

	// TakeOnce returns the order for the token and removes the mapping,
	// atomically with respect to concurrent TakeOnce calls on the same
	// token. Exactly one caller observes the order; all others get
	// ErrNotFound.
	TakeOnce(ctx context.Context, token string) ([]byte, error)
}
