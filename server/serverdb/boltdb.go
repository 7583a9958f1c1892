package serverdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var accountsBucket = []byte("accounts")

// BoltBalanceStore is a BalanceStore backed by a bbolt file.
type BoltBalanceStore struct {
	db *bbolt.DB
}

var _ BalanceStore = (*BoltBalanceStore)(nil)

// NewBoltDB opens (creating if needed) the balance database at path.
func NewBoltDB(path string) (*BoltBalanceStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open balance db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create accounts bucket: %w", err)
	}
	return &BoltBalanceStore{db: db}, nil
}

func canonicalAddress(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

func (s *BoltBalanceStore) GetAccount(ctx context.Context, address string) (*Account, error) {
	addr, err := canonicalAddress(address)
	if err != nil {
		return nil, err
	}

	var acct *Account
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(accountsBucket)
		if bucket == nil {
			return ErrMainBucketNotFound
		}
		got, err := loadOrSeed(bucket, addr, "")
		if err != nil {
			return err
		}
		acct = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *BoltBalanceStore) AdjustBalance(ctx context.Context, address string, delta int64, displayName string) (int64, error) {
	addr, err := canonicalAddress(address)
	if err != nil {
		return 0, err
	}

	var newBalance int64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(accountsBucket)
		if bucket == nil {
			return ErrMainBucketNotFound
		}
		acct, err := loadOrSeed(bucket, addr, displayName)
		if err != nil {
			return err
		}
		acct.Balance += delta
		if displayName != "" {
			acct.DisplayName = displayName
		}
		acct.UpdatedAt = time.Now().Unix()
		newBalance = acct.Balance
		return storeAccount(bucket, acct)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *BoltBalanceStore) Close() error {
	return s.db.Close()
}

// loadOrSeed fetches the account record, creating it with the seed balance
// on first touch.
func loadOrSeed(bucket *bbolt.Bucket, addr, displayName string) (*Account, error) {
	raw := bucket.Get([]byte(addr))
	if raw == nil {
		now := time.Now().Unix()
		acct := &Account{
			Address:     addr,
			Balance:     SeedBalance,
			DisplayName: displayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := storeAccount(bucket, acct); err != nil {
			return nil, err
		}
		return acct, nil
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}
	return &acct, nil
}

func storeAccount(bucket *bbolt.Bucket, acct *Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acct.Address, err)
	}
	return bucket.Put([]byte(acct.Address), raw)
}
