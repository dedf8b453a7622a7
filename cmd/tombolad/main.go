package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/tombola-games/tombola/bank"
	"github.com/tombola-games/tombola/chain"
	"github.com/tombola-games/tombola/config"
	"github.com/tombola-games/tombola/dbcache"
	"github.com/tombola-games/tombola/dbnotify"
	"github.com/tombola-games/tombola/dbutil"
	"github.com/tombola-games/tombola/defaults"
	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/listener"
	"github.com/tombola-games/tombola/lottery"
	"github.com/tombola-games/tombola/model"
	"github.com/tombola-games/tombola/permission"
	"github.com/tombola-games/tombola/state"
	"github.com/tombola-games/tombola/ts"
	"github.com/tombola-games/tombola/webapp"
)

// openStorage returns the configured backend.  The *sql.DB is non-nil only
// for postgres; the notification listener needs the raw handle.
func openStorage(ctx context.Context) (state.Storage, *sql.DB) {
	switch backend := config.StorageBackend(); backend {
	case "memory":
		log.Printf("using in-memory storage; rounds will not survive a restart")
		return state.NewMemoryStorage(), nil
	case "postgres":
		db, err := dbutil.Connect()
		if err != nil {
			log.Fatalf("can't configure database: %v", err)
		}
		return state.NewDBStorageFromDB(db), db
	default:
		log.Fatalf("unknown storage backend %q", backend)
		return nil, nil
	}
}

// watchDBNotifications keeps this instance's cache and long-poll listeners
// coherent with writes from other instances sharing the database.
func watchDBNotifications(ctx context.Context, db *sql.DB, cache *dbcache.RoundStorage, rounds *listener.RoundStorage, storage state.Storage) {
	dispatcher := dbnotify.NewChangeDispatcher[*model.Round]("rounds", rounds, cache, storage)
	nl, err := dbnotify.NewDBNotifyListener(db, dispatcher)
	if err != nil {
		log.Fatalf("can't create db notify listener: %v", err)
	}
	go func() {
		for {
			err := nl.Listen(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Printf("db notify listener died, restarting: %v", err)
			time.Sleep(5 * time.Second)
		}
	}()
}

// bootstrapConfigs writes the default config records on a virgin backend so
// the rest of startup can assume they exist.
func bootstrapConfigs(ctx context.Context, storage state.Storage) {
	if _, err := storage.FetchConfig(ctx); he.IsNotFound(err) {
		log.Printf("no lottery config found, writing defaults")
		if err := storage.SaveConfig(ctx, defaults.Config()); err != nil {
			log.Fatalf("can't save default config: %v", err)
		}
	} else if err != nil {
		log.Fatalf("can't fetch config: %v", err)
	}

	if _, err := storage.FetchSiteConfig(ctx); he.IsNotFound(err) {
		log.Printf("no site config found, writing defaults; run tombolaadmin site-init")
		if err := storage.SaveSiteConfig(ctx, defaults.SiteConfig()); err != nil {
			log.Fatalf("can't save default site config: %v", err)
		}
	} else if err != nil {
		log.Fatalf("can't fetch site config: %v", err)
	}
}

func main() {
	ctx := context.Background()
	config.Init()

	clock := ts.NewRealClock()

	storage, db := openStorage(ctx)
	defer storage.Close()
	bootstrapConfigs(ctx, storage)

	siteConfig, err := storage.FetchSiteConfig(ctx)
	if err != nil {
		log.Fatalf("can't fetch site config: %v", err)
	}
	bakery, err := permission.NewBakery(clock, siteConfig)
	if err != nil {
		log.Fatalf("can't create bakery: %v", err)
	}

	simulator, err := chain.NewSimulator(clock, config.ChainGenesisUnix(), config.ChainBlockSeconds())
	if err != nil {
		log.Fatalf("can't create chain simulator: %v", err)
	}

	// No external settlement backend is wired yet, so balances live and die
	// with the process.  TODO: a persistent ledger backend.
	ledger := bank.NewMemLedger()

	cache := dbcache.NewRoundStorage(config.RoundCacheSize(), storage)
	rounds := listener.NewRoundStorage(cache)
	manager := lottery.NewManager(rounds, storage, simulator, ledger)

	if db != nil {
		watchDBNotifications(ctx, db, cache, rounds, storage)
	}

	app := webapp.New(ctx, &webapp.Config{
		SiteStorage: storage,
		Bakery:      bakery,
		Clock:       clock,
		Manager:     manager,
		Listener:    rounds,
	})

	if err := app.ListenAndServe(config.ListenAddress()); err != nil {
		log.Fatalf("can't serve: %v", err)
	}
}
