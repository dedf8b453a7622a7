package dbcache

import (
	"context"
	"testing"

	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/state"
)

// countingStorage wraps MemoryStorage, counting backend fetches.
type countingStorage struct {
	*state.MemoryStorage
	fetches int
}

func (c *countingStorage) FetchRound(ctx context.Context, id int64) (*model.Round, error) {
	c.fetches++
	return c.MemoryStorage.FetchRound(ctx, id)
}

func activeRound() *model.Round {
	return &model.Round{
		Participants: []model.Identity{},
		Tickets:      []int{},
		TicketCounts: map[model.Identity]int{},
		Status:       model.StatusActive,
	}
}

func TestFetchRoundCaches(t *testing.T) {
	ctx := context.Background()
	backend := &countingStorage{MemoryStorage: state.NewMemoryStorage()}
	cached := NewRoundStorage(8, backend)

	id, err := cached.CreateRound(ctx, activeRound())
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cached.FetchRound(ctx, id); err != nil {
			t.Fatalf("FetchRound: %v", err)
		}
	}
	if backend.fetches != 0 {
		t.Errorf("create should have primed the cache; backend saw %d fetches", backend.fetches)
	}
}

func TestSaveRoundRefreshesCache(t *testing.T) {
	ctx := context.Background()
	backend := &countingStorage{MemoryStorage: state.NewMemoryStorage()}
	cached := NewRoundStorage(8, backend)

	id, _ := cached.CreateRound(ctx, activeRound())
	draft, _ := cached.FetchRound(ctx, id)
	draft.AddTicket("alice")
	draft.TotalPot = 7
	if err := cached.SaveRound(ctx, draft); err != nil {
		t.Fatalf("SaveRound: %v", err)
	}

	got, _ := cached.FetchRound(ctx, id)
	if got.TotalPot != 7 || len(got.Participants) != 1 {
		t.Errorf("cache serves stale round after save: %+v", got)
	}
}

func TestCachedRoundIsACopy(t *testing.T) {
	ctx := context.Background()
	cached := NewRoundStorage(8, state.NewMemoryStorage())

	id, _ := cached.CreateRound(ctx, activeRound())
	a, _ := cached.FetchRound(ctx, id)
	a.AddTicket("mallory")

	b, _ := cached.FetchRound(ctx, id)
	if len(b.Participants) != 0 {
		t.Errorf("mutating a fetched round leaked into the cache: %+v", b)
	}
}

func TestFetchCurrentRoundBypassesCache(t *testing.T) {
	ctx := context.Background()
	backend := state.NewMemoryStorage()
	cached := NewRoundStorage(8, backend)

	id1, _ := cached.CreateRound(ctx, activeRound())
	// Second round created behind the cache's back.
	done := activeRound()
	done.Status = model.StatusCancelled
	id2, _ := backend.CreateRound(ctx, done)

	current, err := cached.FetchCurrentRound(ctx)
	if err != nil {
		t.Fatalf("FetchCurrentRound: %v", err)
	}
	if current.RoundID != id2 {
		t.Errorf("current round = %d, want %d (not cached %d)", current.RoundID, id2, id1)
	}
}
