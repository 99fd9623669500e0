// Package vault implements the custody ledger backing the pool.
//
// Deposits credit the vault with the fixed denomination; verified
// withdrawals debit it. The vault is the boundary to the host asset layer
// and deliberately knows nothing about notes or proofs.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Vault errors
var (
	ErrInsufficientBalance = errors.New("insufficient vault balance")
	ErrZeroAmount          = errors.New("zero amount")
)

// BalanceStore defines the interface for vault balance persistence
type BalanceStore interface {
	// GetBalance returns the custodied balance in base units
	GetBalance(ctx context.Context) (uint64, error)

	// SetBalance updates the custodied balance
	SetBalance(ctx context.Context, balance uint64) error
}

// Vault is the pool's custody ledger
type Vault struct {
	mu sync.RWMutex

	balance uint64
	store   BalanceStore
}

// New creates a vault over the given store
func New(store BalanceStore) *Vault {
	return &Vault{store: store}
}

// Initialize loads the balance from the store
func (v *Vault) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.store.GetBalance(ctx)
	if err != nil {
		return err
	}
	v.balance = balance
	return nil
}

// Balance returns the custodied balance
func (v *Vault) Balance() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance
}

// Credit adds deposited funds to the vault
func (v *Vault) Credit(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	next := v.balance + amount
	if next < v.balance {
		return fmt.Errorf("vault balance overflow")
	}
	if err := v.store.SetBalance(ctx, next); err != nil {
		return err
	}
	v.balance = next
	return nil
}

// Debit releases funds for a verified withdrawal
func (v *Vault) Debit(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if amount > v.balance {
		return ErrInsufficientBalance
	}
	next := v.balance - amount
	if err := v.store.SetBalance(ctx, next); err != nil {
		return err
	}
	v.balance = next
	return nil
}

// CanCover reports whether the vault can pay out an amount
func (v *Vault) CanCover(amount uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return amount <= v.balance
}

// InMemoryBalanceStore is a trivial balance store for tests
type InMemoryBalanceStore struct {
	mu      sync.RWMutex
	balance uint64
}

// NewInMemoryBalanceStore creates an empty in-memory balance store
func NewInMemoryBalanceStore() *InMemoryBalanceStore {
	return &InMemoryBalanceStore{}
}

// GetBalance returns the custodied balance
func (s *InMemoryBalanceStore) GetBalance(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

// SetBalance updates the custodied balance
func (s *InMemoryBalanceStore) SetBalance(ctx context.Context, balance uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
	return nil
}
