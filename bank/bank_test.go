package bank

import (
	"context"
	"errors"
	"testing"
)

func TestMemLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	l.Deposit("alice", 100)

	tx, err := l.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Transfer(60, "alice", "pool"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got, _ := l.BalanceOf(ctx, "alice"); got != 40 {
		t.Errorf("alice = %d, want 40", got)
	}
	if got, _ := l.BalanceOf(ctx, "pool"); got != 60 {
		t.Errorf("pool = %d, want 60", got)
	}
}

func TestMemLedgerInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	l.Deposit("alice", 10)

	tx, _ := l.Begin(ctx)
	if err := tx.Transfer(11, "alice", "pool"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	tx.Rollback()

	if got, _ := l.BalanceOf(ctx, "alice"); got != 10 {
		t.Errorf("rollback should leave alice at 10, got %d", got)
	}
}

func TestMemLedgerStagedBalanceVisibleWithinTx(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	l.Deposit("pool", 100)

	tx, _ := l.Begin(ctx)
	// Two payouts from the same pool: the second sees the first staged.
	if err := tx.Transfer(60, "pool", "a"); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if err := tx.Transfer(60, "pool", "b"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("second transfer should overdraw staged pool, got %v", err)
	}
	tx.Rollback()

	// Nothing moved.
	if got, _ := l.BalanceOf(ctx, "pool"); got != 100 {
		t.Errorf("pool = %d, want 100 after rollback", got)
	}
	if got, _ := l.BalanceOf(ctx, "a"); got != 0 {
		t.Errorf("a = %d, want 0 after rollback", got)
	}
}

func TestMemLedgerFinishedTx(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()
	l.Deposit("alice", 10)

	tx, _ := l.Begin(ctx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Transfer(1, "alice", "pool"); err == nil {
		t.Error("transfer after commit should fail")
	}
	if err := tx.Commit(); err == nil {
		t.Error("double commit should fail")
	}
}
