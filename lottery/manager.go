// Package lottery is the round lifecycle: initialize, sell tickets, draw,
// settle.  Every public operation is atomic — it stages its mutations on a
// private copy of the round and a buffered bank transaction, and commits
// both only after every precondition and every external call has
// succeeded.  On any failure the caller sees the specific taxonomy error
// and no state change at all.
package lottery

import (
	"context"
	"fmt"
	"log"

	"github.com/tombola-games/tombola/bank"
	"github.com/tombola-games/tombola/chain"
	"github.com/tombola-games/tombola/dep"
	"github.com/tombola-games/tombola/draw"
	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/permission"
	"github.com/tombola-games/tombola/seed"
	"github.com/tombola-games/tombola/state"
)

type Manager struct {
	rounds  state.RoundStorage
	configs state.ConfigStorage
	chain   chain.Reader
	ledger  bank.Ledger
}

func NewManager(rounds state.RoundStorage, configs state.ConfigStorage, reader chain.Reader, ledger bank.Ledger) *Manager {
	return &Manager{
		rounds:  dep.Required(rounds),
		configs: dep.Required(configs),
		chain:   dep.Required(reader),
		ledger:  dep.Required(ledger),
	}
}

// requireOwner resolves the caller and checks it against the configured
// owner.  IsOwner is only ever set on cookie-minted sessions, so a caller
// asserting the owner's identity through the plain identity path doesn't
// pass.
func (m *Manager) requireOwner(ctx context.Context, cfg *model.Config) error {
	caller := permission.Caller(ctx)
	if caller == nil {
		return ErrNoCaller
	}
	if !caller.IsOwner || caller.Identity != cfg.Owner {
		return ErrNotAuthorized
	}
	return nil
}

// currentRound fetches the latest round, mapping "no rounds yet" to nil.
func (m *Manager) currentRound(ctx context.Context) (*model.Round, error) {
	r, err := m.rounds.FetchCurrentRound(ctx)
	if he.IsNotFound(err) {
		return nil, nil
	}
	return r, err
}

// deriveSeed reads the block timestamps at the given height and the one
// before it.  A missing block (notably height 0's predecessor) counts as
// timestamp 0.
func (m *Manager) deriveSeed(ctx context.Context, height uint64) (uint64, error) {
	cur, ok, err := m.chain.TimeAt(ctx, height)
	if err != nil {
		return 0, fmt.Errorf("reading block %d time: %w", height, err)
	}
	if !ok {
		return 0, fmt.Errorf("block %d has no timestamp", height)
	}
	var prev uint64
	if height > 0 {
		p, ok, err := m.chain.TimeAt(ctx, height-1)
		if err != nil {
			return 0, fmt.Errorf("reading block %d time: %w", height-1, err)
		}
		if ok {
			prev = p
		}
	}
	return seed.Derive(cur, prev), nil
}

// Initialize starts a new round.  Owner only; the previous round (if any)
// must be terminal.  Returns the new round's id.
func (m *Manager) Initialize(ctx context.Context) (int64, error) {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return -1, err
	}
	if err := m.requireOwner(ctx, cfg); err != nil {
		return -1, err
	}

	current, err := m.currentRound(ctx)
	if err != nil {
		return -1, err
	}
	if current != nil && !current.Status.Terminal() {
		return -1, ErrLotteryInProgress
	}

	height, err := m.chain.Height(ctx)
	if err != nil {
		return -1, err
	}
	roundSeed, err := m.deriveSeed(ctx, height)
	if err != nil {
		return -1, err
	}

	r := &model.Round{
		Participants: []model.Identity{},
		Tickets:      []int{},
		TicketCounts: map[model.Identity]int{},
		StartBlock:   height,
		EndBlock:     height + cfg.MinBlocks,
		MinPlayers:   cfg.MinPlayers,
		Status:       model.StatusActive,
		RandomSeed:   roundSeed,
	}

	id, err := m.rounds.CreateRound(ctx, r)
	if err != nil {
		return -1, err
	}
	log.Printf("round %d open: blocks [%d, %d], min players %d, seed %d",
		id, r.StartBlock, r.EndBlock, r.MinPlayers, r.RandomSeed)
	return id, nil
}

// BuyTicket sells the caller one ticket in the active round at the live
// ticket price.  The transfer, the ticket append, and the pot bump land
// together or not at all.
func (m *Manager) BuyTicket(ctx context.Context) error {
	caller, ok := permission.CallerIdentity(ctx)
	if !ok {
		return ErrNoCaller
	}
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return err
	}

	current, err := m.currentRound(ctx)
	if err != nil {
		return err
	}
	height, err := m.chain.Height(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.Status != model.StatusActive || !current.WindowContains(height) {
		return ErrNoLotteryActive
	}

	// TicketPrice is read live from config, not captured at round start.
	tx, err := m.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.Transfer(cfg.TicketPrice, caller, cfg.PoolAccount); err != nil {
		return err
	}

	if len(current.Participants) >= model.MaxParticipants {
		return ErrLotteryEnded
	}

	draft := current.Clone()
	draft.AddTicket(caller)
	draft.TotalPot += cfg.TicketPrice

	if err := m.rounds.SaveRound(ctx, draft); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		// Round row already advanced; a half-committed purchase would be
		// worse than a loud failure.
		return fmt.Errorf("ticket saved but transfer commit failed: %w", err)
	}
	log.Printf("round %d: %s bought ticket %d, pot now %d",
		draft.RoundID, caller, len(draft.Tickets)-1, draft.TotalPot)
	return nil
}

// DrawWinners settles the active round: derives a fresh seed, selects
// winners, pays them from the pool, and flips the round to Completed.
// Any transfer failure aborts the whole draw; the round stays drawable.
func (m *Manager) DrawWinners(ctx context.Context) ([]model.Winner, error) {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	current, err := m.currentRound(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNoLotteryActive
	}

	height, err := m.chain.Height(ctx)
	if err != nil {
		return nil, err
	}
	// EndBlock froze start+minBlocks at initialization; later changes to
	// min_blocks don't move an active round's draw height.
	if height < current.EndBlock {
		return nil, ErrTooEarly
	}
	if len(current.Participants) < current.MinPlayers {
		return nil, ErrNoParticipants
	}
	if current.Status != model.StatusActive {
		return nil, ErrLotteryEnded
	}

	drawSeed, err := m.deriveSeed(ctx, height)
	if err != nil {
		return nil, err
	}

	// WinnerCount is read live from config, like TicketPrice.
	winners, err := draw.SelectWinners(current.Participants, drawSeed, uint64(cfg.WinnerCount), current.TotalPot)
	if err != nil {
		return nil, err
	}

	tx, err := m.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, w := range winners {
		if err := tx.Transfer(w.Prize, cfg.PoolAccount, w.Identity); err != nil {
			return nil, fmt.Errorf("paying %s its prize of %d: %w", w.Identity, w.Prize, err)
		}
	}

	draft := current.Clone()
	draft.Winners = winners
	draft.Status = model.StatusCompleted
	draft.RandomSeed = drawSeed

	if err := m.rounds.SaveRound(ctx, draft); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("round settled but payout commit failed: %w", err)
	}
	log.Printf("round %d settled: seed %d, %d winners, pot %d",
		draft.RoundID, drawSeed, len(winners), draft.TotalPot)
	return winners, nil
}

// Cancel is the administrative escape hatch: owner flips the active round
// to Cancelled.  The pot stays in the pool account — there is no refund
// path, because per-ticket prices aren't recorded and the live price may
// have moved since each purchase.
func (m *Manager) Cancel(ctx context.Context) error {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return err
	}
	if err := m.requireOwner(ctx, cfg); err != nil {
		return err
	}
	current, err := m.currentRound(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.Status != model.StatusActive {
		return ErrNoLotteryActive
	}

	draft := current.Clone()
	draft.Status = model.StatusCancelled
	if err := m.rounds.SaveRound(ctx, draft); err != nil {
		return err
	}
	log.Printf("round %d cancelled with pot %d still in %s",
		draft.RoundID, draft.TotalPot, cfg.PoolAccount)
	return nil
}

// mutateConfig funnels every administrative setter through one
// fetch-validate-save path.
func (m *Manager) mutateConfig(ctx context.Context, mutate func(*model.Config) error) error {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return err
	}
	if err := m.requireOwner(ctx, cfg); err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	return m.configs.SaveConfig(ctx, cfg)
}

// SetTicketPrice updates the ticket price, in minimum units.
func (m *Manager) SetTicketPrice(ctx context.Context, price uint64) error {
	return m.mutateConfig(ctx, func(cfg *model.Config) error {
		if price < model.MinTicketPrice || price > model.MaxTicketPrice {
			return ErrInvalidTicketPrice
		}
		cfg.TicketPrice = price
		return nil
	})
}

func (m *Manager) SetMinPlayers(ctx context.Context, minPlayers int) error {
	return m.mutateConfig(ctx, func(cfg *model.Config) error {
		if minPlayers <= 0 || minPlayers > model.MaxMinPlayers {
			return ErrInvalidMinPlayers
		}
		cfg.MinPlayers = minPlayers
		return nil
	})
}

func (m *Manager) SetMinBlocks(ctx context.Context, minBlocks uint64) error {
	return m.mutateConfig(ctx, func(cfg *model.Config) error {
		if minBlocks < model.MinMinBlocks || minBlocks > model.MaxMinBlocks {
			return ErrInvalidMinBlocks
		}
		cfg.MinBlocks = minBlocks
		return nil
	})
}

func (m *Manager) SetWinnerCount(ctx context.Context, winnerCount int) error {
	return m.mutateConfig(ctx, func(cfg *model.Config) error {
		if winnerCount <= 0 {
			return ErrInvalidWinners
		}
		if winnerCount > model.MaxWinners {
			return ErrTooManyWinners
		}
		cfg.WinnerCount = winnerCount
		return nil
	})
}

// LotteryInfo returns the round record for the given id.
func (m *Manager) LotteryInfo(ctx context.Context, id int64) (*model.Round, error) {
	return m.rounds.FetchRound(ctx, id)
}

// ParticipantTickets returns how many tickets the identity holds in the
// given round; zero if it holds none.
func (m *Manager) ParticipantTickets(ctx context.Context, id int64, who model.Identity) (int, error) {
	r, err := m.rounds.FetchRound(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.TicketCounts[who], nil
}

// CurrentLottery returns the latest round record.
func (m *Manager) CurrentLottery(ctx context.Context) (*model.Round, error) {
	return m.rounds.FetchCurrentRound(ctx)
}

func (m *Manager) TicketPrice(ctx context.Context) (uint64, error) {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.TicketPrice, nil
}

func (m *Manager) WinnerCount(ctx context.Context) (int, error) {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.WinnerCount, nil
}

// Owner returns the configured owner identity.
func (m *Manager) Owner(ctx context.Context) (model.Identity, error) {
	cfg, err := m.configs.FetchConfig(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Owner, nil
}

// Overview returns slugs for recent rounds, newest first.
func (m *Manager) Overview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	return m.rounds.FetchOverview(ctx, offset, limit)
}

// LastRandomSeed returns the seed in effect for the latest round: the
// creation seed while it's active, the draw seed once it's settled.
func (m *Manager) LastRandomSeed(ctx context.Context) (uint64, error) {
	r, err := m.rounds.FetchCurrentRound(ctx)
	if err != nil {
		return 0, err
	}
	return r.RandomSeed, nil
}
