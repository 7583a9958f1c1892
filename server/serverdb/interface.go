package serverdb

import (
	"context"
	"errors"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrMainBucketNotFound = errors.New("main bucket not found")
	ErrInvalidAddress     = errors.New("invalid address")
)

// SeedBalance is the balance a fresh account starts with.
const SeedBalance = int64(1000)

// Account is one player's off-game balance record.
type Account struct {
	Address     string `json:"address"`
	Balance     int64  `json:"balance"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// BalanceStore is the debit/credit service the game consumes. Addresses
// are canonicalized to lower case; unknown addresses are created on first
// touch with the seed balance.
type BalanceStore interface {
	// GetAccount fetches (creating if needed) the account for address.
	GetAccount(ctx context.Context, address string) (*Account, error)
	// AdjustBalance applies delta (positive or negative) to the account
	// for address, creating it with the seed balance first if needed,
	// and returns the new balance. A non-empty displayName updates the
	// stored name.
	AdjustBalance(ctx context.Context, address string, delta int64, displayName string) (int64, error)
	Close() error
}
