// Package chain supplies block metadata: the current height and the
// timestamp of any given block.  The lottery core treats these as external
// facts; it never waits for a block.
package chain

import (
	"context"
	"fmt"

	"github.com/tombola-games/tombola/ts"
)

// Reader answers the two questions the round lifecycle asks of the chain.
type Reader interface {
	// Height returns the current block height.
	Height(ctx context.Context) (uint64, error)
	// TimeAt returns the unix timestamp of the block at the given height.
	// ok is false when that block doesn't exist (heights above the tip, or
	// the notional block before genesis).
	TimeAt(ctx context.Context, height uint64) (timestamp uint64, ok bool, err error)
}

// Simulator derives a deterministic block lattice from a clock: block 0 at
// genesis, one block every interval seconds.  With a real clock this gives
// the daemon a steadily advancing chain; with a fake clock, tests advance
// it at will.
type Simulator struct {
	clock    *ts.Clock
	genesis  uint64
	interval uint64
}

func NewSimulator(clock *ts.Clock, genesisUnix uint64, intervalSeconds uint64) (*Simulator, error) {
	if intervalSeconds == 0 {
		return nil, fmt.Errorf("block interval must be positive")
	}
	return &Simulator{
		clock:    clock,
		genesis:  genesisUnix,
		interval: intervalSeconds,
	}, nil
}

var _ Reader = (*Simulator)(nil)

func (s *Simulator) Height(_ context.Context) (uint64, error) {
	now := uint64(s.clock.Now().Unix())
	if now < s.genesis {
		return 0, fmt.Errorf("clock is before genesis (now=%d genesis=%d)", now, s.genesis)
	}
	return (now - s.genesis) / s.interval, nil
}

func (s *Simulator) TimeAt(ctx context.Context, height uint64) (uint64, bool, error) {
	tip, err := s.Height(ctx)
	if err != nil {
		return 0, false, err
	}
	if height > tip {
		return 0, false, nil
	}
	return s.genesis + height*s.interval, true, nil
}
