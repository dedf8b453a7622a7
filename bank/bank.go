// Package bank is the value-transfer collaborator.  The lottery never
// touches balances directly; it stages transfers on a transaction and
// commits them only when the whole operation has succeeded.
package bank

import (
	"context"
	"errors"
	"sync"

	"github.com/tombola-games/tombola/model"
)

// ErrInsufficientFunds is returned when a transfer would overdraw the
// source account.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Tx is a buffered set of transfers.  Nothing moves until Commit; a failed
// Transfer poisons nothing, the caller just Rollbacks and walks away.
type Tx interface {
	// Transfer stages amount moving from one identity to another.  It
	// fails with ErrInsufficientFunds if, given the already-staged
	// transfers, the source can't cover it.
	Transfer(amount uint64, from, to model.Identity) error
	Commit() error
	Rollback()
}

// Ledger is the external balance book.
type Ledger interface {
	BalanceOf(ctx context.Context, id model.Identity) (uint64, error)
	Begin(ctx context.Context) (Tx, error)
}

// MemLedger is an in-memory Ledger.  The daemon uses it when no external
// settlement backend is configured; tests use it everywhere.
type MemLedger struct {
	mu       sync.Mutex
	balances map[model.Identity]uint64
}

func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[model.Identity]uint64)}
}

var _ Ledger = (*MemLedger)(nil)

// Deposit credits an account directly.  Bootstrap and tests only.
func (l *MemLedger) Deposit(id model.Identity, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[id] += amount
}

func (l *MemLedger) BalanceOf(_ context.Context, id model.Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id], nil
}

func (l *MemLedger) Begin(_ context.Context) (Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Staged balances start as a snapshot; the ledger lock is not held for
	// the life of the tx because operations are strictly sequential here.
	staged := make(map[model.Identity]uint64, len(l.balances))
	for id, amt := range l.balances {
		staged[id] = amt
	}
	return &memTx{ledger: l, staged: staged}, nil
}

type memTx struct {
	ledger *MemLedger
	staged map[model.Identity]uint64
	done   bool
}

func (tx *memTx) Transfer(amount uint64, from, to model.Identity) error {
	if tx.done {
		return errors.New("transfer on finished transaction")
	}
	if tx.staged[from] < amount {
		return ErrInsufficientFunds
	}
	tx.staged[from] -= amount
	tx.staged[to] += amount
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("double commit")
	}
	tx.done = true
	tx.ledger.mu.Lock()
	defer tx.ledger.mu.Unlock()
	tx.ledger.balances = tx.staged
	return nil
}

func (tx *memTx) Rollback() {
	tx.done = true
	tx.staged = nil
}
