// Package fakes has hand-rolled test doubles for the external
// collaborators: a chain whose height and timestamps the test script
// controls directly, and a ledger that fails on command.
package fakes

import (
	"context"
	"errors"

	"github.com/tombola-games/tombola/bank"
	"github.com/tombola-games/tombola/model"
)

// Chain is a chain.Reader driven by the test.  Blocks 0..height exist;
// block h's timestamp is Genesis + h*Interval unless overridden.
type Chain struct {
	CurrentHeight uint64
	Genesis       uint64
	Interval      uint64
	// Times overrides specific heights.
	Times map[uint64]uint64
}

func NewChain() *Chain {
	return &Chain{
		Genesis:  1_735_689_600,
		Interval: 15,
		Times:    map[uint64]uint64{},
	}
}

func (c *Chain) Height(_ context.Context) (uint64, error) {
	return c.CurrentHeight, nil
}

func (c *Chain) TimeAt(_ context.Context, height uint64) (uint64, bool, error) {
	if height > c.CurrentHeight {
		return 0, false, nil
	}
	if t, ok := c.Times[height]; ok {
		return t, true, nil
	}
	return c.Genesis + height*c.Interval, true, nil
}

// Advance moves the tip forward.
func (c *Chain) Advance(blocks uint64) {
	c.CurrentHeight += blocks
}

// FlakyLedger decorates a bank.Ledger, failing the Nth transfer across
// all transactions.  For exercising payout-abort paths.
type FlakyLedger struct {
	Inner bank.Ledger
	// FailOn is 1-based; 0 disables failure injection.
	FailOn int
	seen   int
}

var ErrInjected = errors.New("injected transfer failure")

func (l *FlakyLedger) BalanceOf(ctx context.Context, id model.Identity) (uint64, error) {
	return l.Inner.BalanceOf(ctx, id)
}

func (l *FlakyLedger) Begin(ctx context.Context) (bank.Tx, error) {
	tx, err := l.Inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{parent: l, inner: tx}, nil
}

type flakyTx struct {
	parent *FlakyLedger
	inner  bank.Tx
}

func (tx *flakyTx) Transfer(amount uint64, from, to model.Identity) error {
	tx.parent.seen++
	if tx.parent.FailOn != 0 && tx.parent.seen == tx.parent.FailOn {
		return ErrInjected
	}
	return tx.inner.Transfer(amount, from, to)
}

func (tx *flakyTx) Commit() error { return tx.inner.Commit() }
func (tx *flakyTx) Rollback()     { tx.inner.Rollback() }
