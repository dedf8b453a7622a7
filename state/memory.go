package state

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/model"
)

// MemoryStorage is a map-backed Storage.  It deep-copies on the way in and
// on the way out, so a caller holds a private draft until SaveRound —
// the transactional-map behavior the lifecycle manager leans on.
type MemoryStorage struct {
	lock       sync.Mutex
	rounds     map[int64]*model.Round
	nextID     int64
	config     *model.Config
	siteConfig *model.SiteConfig
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		rounds: make(map[int64]*model.Round),
		nextID: 1,
	}
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) Close() {}

func (s *MemoryStorage) CreateRound(ctx context.Context, r *model.Round) (int64, error) {
	if err := r.CheckInvariants(); err != nil {
		return -1, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextID
	s.nextID++

	stored := r.Clone()
	stored.RoundID = id
	stored.OptimisticLock = 1
	s.rounds[id] = stored

	r.RoundID = id
	r.OptimisticLock = 1
	return id, nil
}

func (s *MemoryStorage) SaveRound(ctx context.Context, r *model.Round) error {
	if err := r.CheckInvariants(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	current, ok := s.rounds[r.RoundID]
	if !ok {
		return he.New(http.StatusNotFound, fmt.Errorf("no such round id %d", r.RoundID))
	}
	if current.OptimisticLock != r.OptimisticLock {
		return he.HTTPCodedErrorf(http.StatusConflict,
			"optimistic lock conflict on round %d: have %d, got %d",
			r.RoundID, current.OptimisticLock, r.OptimisticLock)
	}

	stored := r.Clone()
	stored.OptimisticLock++
	s.rounds[r.RoundID] = stored
	r.OptimisticLock = stored.OptimisticLock
	return nil
}

func (s *MemoryStorage) FetchRound(ctx context.Context, id int64) (*model.Round, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no such round id %d", id))
	}
	return r.Clone(), nil
}

func (s *MemoryStorage) FetchCurrentRound(ctx context.Context) (*model.Round, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var latest *model.Round
	for _, r := range s.rounds {
		if latest == nil || r.RoundID > latest.RoundID {
			latest = r
		}
	}
	if latest == nil {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no rounds yet"))
	}
	return latest.Clone(), nil
}

func (s *MemoryStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	overview := &model.Overview{}
	// Newest first; ids are dense enough to walk down from the top.
	for id := s.nextID - 1; id >= 1 && limit > 0; id-- {
		r, ok := s.rounds[id]
		if !ok {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		overview.Slugs = append(overview.Slugs, model.RoundSlug{
			RoundID: r.RoundID,
			Status:  r.Status,
			Players: len(r.Participants),
			Pot:     r.TotalPot,
		})
		limit--
	}
	return overview, nil
}

func (s *MemoryStorage) FetchConfig(ctx context.Context) (*model.Config, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.config == nil {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no config stored"))
	}
	c := *s.config
	return &c, nil
}

func (s *MemoryStorage) SaveConfig(ctx context.Context, c *model.Config) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	copied := *c
	s.config = &copied
	return nil
}

func (s *MemoryStorage) FetchSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.siteConfig == nil {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no site config stored"))
	}
	sc := *s.siteConfig
	sc.CookieKeys = append([]model.CookieKey(nil), s.siteConfig.CookieKeys...)
	return &sc, nil
}

func (s *MemoryStorage) SaveSiteConfig(ctx context.Context, sc *model.SiteConfig) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	copied := *sc
	copied.CookieKeys = append([]model.CookieKey(nil), sc.CookieKeys...)
	s.siteConfig = &copied
	return nil
}
