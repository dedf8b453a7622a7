package dbcache

import (
	"context"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/state"
	"github.com/tombola-games/tombola/varz"
)

var (
	roundStorageCacheHits       = varz.NewInt("roundStorageCacheHits")
	roundStorageCacheMisses     = varz.NewInt("roundStorageCacheMisses")
	roundStorageCacheStaleSkips = varz.NewInt("roundStorageCacheStaleSkips")
	roundStorageCacheInvalidate = varz.NewInt("roundStorageCacheInvalidate")
)

// RoundStorage is a write-through LRU in front of another RoundStorage.
// Completed rounds are read forever (get_lottery_info) but written once,
// so they're ideal cache tenants.  Entries are deep-copied both ways; the
// cache never hands out a pointer a caller can mutate behind its back.
type RoundStorage struct {
	cache *lru.Cache[int64, *model.Round]
	lock  sync.Mutex
	next  state.RoundStorage
}

var _ state.RoundStorage = (*RoundStorage)(nil)

func NewRoundStorage(size int, next state.RoundStorage) *RoundStorage {
	cache, err := lru.New[int64, *model.Round](size)
	if err != nil {
		log.Fatalf("Failed to create RoundStorage cache: %v", err)
	}
	return &RoundStorage{
		cache: cache,
		next:  next,
	}
}

func (s *RoundStorage) Close() {
	s.next.Close()
}

func (s *RoundStorage) store(r *model.Round) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if cached, ok := s.cache.Get(r.RoundID); ok && cached.OptimisticLock > r.OptimisticLock {
		roundStorageCacheStaleSkips.Add(1)
		return
	}
	s.cache.Add(r.RoundID, r.Clone())
}

// CacheInvalidate drops the cached copy if it's older than the given
// version.  The database notification path calls this when some other
// instance wrote the round.
func (s *RoundStorage) CacheInvalidate(ctx context.Context, id int64, version int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if cached, ok := s.cache.Get(id); ok && cached.OptimisticLock < version {
		roundStorageCacheInvalidate.Add(1)
		s.cache.Remove(id)
	}
}

func (s *RoundStorage) CreateRound(ctx context.Context, r *model.Round) (int64, error) {
	id, err := s.next.CreateRound(ctx, r)
	if err != nil {
		return id, err
	}
	s.store(r)
	return id, nil
}

func (s *RoundStorage) SaveRound(ctx context.Context, r *model.Round) error {
	err := s.next.SaveRound(ctx, r)
	if err != nil {
		// A failed save may mean our copy is stale; drop it.
		s.lock.Lock()
		s.cache.Remove(r.RoundID)
		s.lock.Unlock()
		return err
	}
	s.store(r)
	return nil
}

func (s *RoundStorage) FetchRound(ctx context.Context, id int64) (*model.Round, error) {
	s.lock.Lock()
	cached, ok := s.cache.Get(id)
	s.lock.Unlock()
	if ok {
		roundStorageCacheHits.Add(1)
		return cached.Clone(), nil
	}

	roundStorageCacheMisses.Add(1)
	r, err := s.next.FetchRound(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(r)
	return r, nil
}

// FetchCurrentRound always goes to the backend — the cache doesn't know
// which id is highest — but refreshes the entry on the way through.
func (s *RoundStorage) FetchCurrentRound(ctx context.Context) (*model.Round, error) {
	r, err := s.next.FetchCurrentRound(ctx)
	if err != nil {
		return nil, err
	}
	s.store(r)
	return r, nil
}

func (s *RoundStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	return s.next.FetchOverview(ctx, offset, limit)
}
