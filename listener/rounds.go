// Package listener lets clients long-poll for round changes instead of
// hammering the fetch endpoint while a pot fills up.
package listener

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/state"
)

// A listen request eventually results in exactly one write to one of these
// channels (possibly before the pair is registered).
type channels struct {
	errCh   chan<- error
	roundCh chan<- *model.Round
}

// RoundStorage provides a place to hang listeners.  It intercepts writes
// and notifies waiting clients that the round has changed.
type RoundStorage struct {
	roundListeners   map[int64][]channels
	roundListenersMu sync.Mutex

	next state.RoundStorage
}

func NewRoundStorage(next state.RoundStorage) *RoundStorage {
	return &RoundStorage{
		next:           next,
		roundListeners: make(map[int64][]channels),
	}
}

var _ state.RoundStorage = (*RoundStorage)(nil)

func (s *RoundStorage) Close() {
	s.next.Close()
}

func (s *RoundStorage) CreateRound(ctx context.Context, r *model.Round) (int64, error) {
	return s.next.CreateRound(ctx, r)
}

func (s *RoundStorage) FetchRound(ctx context.Context, id int64) (*model.Round, error) {
	return s.next.FetchRound(ctx, id)
}

func (s *RoundStorage) FetchCurrentRound(ctx context.Context) (*model.Round, error) {
	return s.next.FetchCurrentRound(ctx)
}

func (s *RoundStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	return s.next.FetchOverview(ctx, offset, limit)
}

// ListenRoundVersion registers a listener for a change to the given round.
// If the stored round already differs from the version the client reports,
// it's sent immediately; otherwise the channels fire on the next save.
func (s *RoundStorage) ListenRoundVersion(ctx context.Context, id int64, version int64, errCh chan<- error, roundCh chan<- *model.Round) {
	s.roundListenersMu.Lock()
	defer s.roundListenersMu.Unlock()

	r, err := s.next.FetchRound(ctx, id)
	if err != nil {
		errCh <- fmt.Errorf("can't listen for changes: can't fetch round %d: %w", id, err)
		return
	}

	if r.OptimisticLock != version {
		// Storage already has something different, just send it.
		if r.OptimisticLock < version {
			// This is un-possible, but a malicious client could be messing
			// with us, or we could just have a bug.
			log.Printf("can't happen: reported version %d is newer than stored version %d for round %d",
				version, r.OptimisticLock, id)
		}
		roundCh <- r
		return
	}

	s.roundListeners[id] = append(s.roundListeners[id], channels{errCh, roundCh})
}

func (s *RoundStorage) resetRoundListeners(id int64) []channels {
	s.roundListenersMu.Lock()
	defer s.roundListenersMu.Unlock()
	listeners := s.roundListeners[id]
	delete(s.roundListeners, id)
	return listeners
}

// NotifyUpdated fires any listeners waiting on the given round.  SaveRound
// calls it for local writes; the database notification path calls it when
// another instance wrote.
func (s *RoundStorage) NotifyUpdated(ctx context.Context, r *model.Round) {
	listeners := s.resetRoundListeners(r.RoundID)
	if len(listeners) == 0 {
		return
	}
	go func() {
		for _, chs := range listeners {
			chs.roundCh <- r.Clone()
		}
		log.Printf("notified %d listeners of round %d version %d change",
			len(listeners), r.RoundID, r.OptimisticLock)
	}()
}

func (s *RoundStorage) SaveRound(ctx context.Context, r *model.Round) error {
	if err := s.next.SaveRound(ctx, r); err != nil {
		return err
	}
	s.NotifyUpdated(ctx, r)
	return nil
}
