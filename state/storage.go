package state

// package state manages persistence.

import (
	"context"

	"github.com/tombola-games/tombola/model"
)

type Closer interface {
	Close()
}

// RoundStorage persists lottery rounds.  Fetches return deep copies;
// nothing a caller does to a fetched round is visible until SaveRound.
// Absent rounds come back as a coded 404 (see he.IsNotFound).
type RoundStorage interface {
	Closer

	// CreateRound stores a new round and returns its id.  Ids are
	// strictly increasing across the life of the storage.
	CreateRound(ctx context.Context, r *model.Round) (int64, error)
	// SaveRound overwrites an existing round.  It fails on an
	// optimistic-lock conflict, which in this system means a bug: the
	// execution model is strictly sequential.
	SaveRound(ctx context.Context, r *model.Round) error
	FetchRound(ctx context.Context, id int64) (*model.Round, error)
	// FetchCurrentRound returns the round with the highest id.
	FetchCurrentRound(ctx context.Context) (*model.Round, error)
	FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error)
}

// ConfigStorage persists the single administrative Config record.
type ConfigStorage interface {
	Closer

	FetchConfig(ctx context.Context) (*model.Config, error)
	SaveConfig(ctx context.Context, c *model.Config) error
}

// SiteStorage persists the web-facing site configuration (cookie keys,
// owner password hash).
type SiteStorage interface {
	Closer

	FetchSiteConfig(ctx context.Context) (*model.SiteConfig, error)
	SaveSiteConfig(ctx context.Context, sc *model.SiteConfig) error
}

// Storage is everything the daemon needs from one backend.
type Storage interface {
	RoundStorage
	ConfigStorage
	SiteStorage
}
