/*
Package dbnotify is the backchannel from the database.  When several
tombolad instances share one Postgres, a write by one instance has to
invalidate the others' round caches and wake their long-poll listeners;
a trigger on the rounds table raises NOTIFY, and this package listens.
*/
package dbnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	sleepOnErrorTime = 5 * time.Second
)

// NotificationEvent is the JSON payload the table trigger emits.
type NotificationEvent struct {
	Table   string
	OnID    int64
	Version int64
}

// CacheStorage drops stale cached copies.  dbcache implements this.
type CacheStorage interface {
	CacheInvalidate(ctx context.Context, key int64, version int64)
}

// ClientNotifier wakes clients waiting on the stored item.  The long-poll
// listener storage implements this.
type ClientNotifier[StoredType any] interface {
	NotifyUpdated(ctx context.Context, m StoredType)
}

// StorageFetcher reads the fresh item after invalidation.
type StorageFetcher[StoredType any] interface {
	FetchRound(ctx context.Context, id int64) (StoredType, error)
}

// ChangeDispatcher handles events for one table: invalidate the cache,
// re-fetch, notify.
type ChangeDispatcher[StoredType any] struct {
	tableName      string
	clientNotifier ClientNotifier[StoredType]
	cacheStorage   CacheStorage
	fetcher        StorageFetcher[StoredType]
}

func NewChangeDispatcher[StoredType any](tableName string, clientNotifier ClientNotifier[StoredType], cacheStorage CacheStorage, fetcher StorageFetcher[StoredType]) *ChangeDispatcher[StoredType] {
	return &ChangeDispatcher[StoredType]{
		tableName:      tableName,
		clientNotifier: clientNotifier,
		cacheStorage:   cacheStorage,
		fetcher:        fetcher,
	}
}

func (cd *ChangeDispatcher[StoredType]) TableName() string {
	return cd.tableName
}

func (cd *ChangeDispatcher[StoredType]) Consume(ctx context.Context, event *NotificationEvent) {
	cd.cacheStorage.CacheInvalidate(ctx, event.OnID, event.Version)

	// Read-through.
	item, err := cd.fetcher.FetchRound(ctx, event.OnID)
	if err != nil {
		log.Printf("drop notification: can't fetch item %s %d: %v", cd.tableName, event.OnID, err)
		return
	}

	if cd.clientNotifier != nil {
		cd.clientNotifier.NotifyUpdated(ctx, item)
	}
}

// Consumer is what the listener dispatches to, keyed by table name.
type Consumer interface {
	TableName() string
	Consume(ctx context.Context, event *NotificationEvent)
}

type DBNotifyListener struct {
	db                  *sql.DB
	tableNameToConsumer map[string]Consumer
}

func NewDBNotifyListener(db *sql.DB, consumers ...Consumer) (*DBNotifyListener, error) {
	m := make(map[string]Consumer)
	for _, c := range consumers {
		tableName := c.TableName()
		if _, exists := m[tableName]; exists {
			return nil, fmt.Errorf("duplicate consumer for table %s", tableName)
		}
		m[tableName] = c
	}

	return &DBNotifyListener{db: db, tableNameToConsumer: m}, nil
}

// Listen blocks on LISTEN/NOTIFY until the context dies or the connection
// fails.  The caller owns the retry loop.
func (cl *DBNotifyListener) Listen(ctx context.Context) error {
	conn, err := cl.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var pgxConn *stdlib.Conn
	err = conn.Raw(func(driverConn any) error {
		pgxConn = driverConn.(*stdlib.Conn)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get pgx connection: %w", err)
	}

	for table := range cl.tableNameToConsumer {
		channel := fmt.Sprintf("%s_changes", table)
		_, err := pgxConn.Conn().Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
		if err != nil {
			return fmt.Errorf("failed to listen on channel %s: %w", channel, err)
		}
	}

	ch := make(chan *NotificationEvent)
	defer close(ch)
	go cl.consumeEvents(ctx, ch)

	for {
		log.Printf("(awaiting db notifications...)")
		var notification *pgconn.Notification
		if nf, err := pgxConn.Conn().WaitForNotification(ctx); err == nil {
			notification = nf
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error waiting for notification: %w", err)
		}

		event := &NotificationEvent{}
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			log.Printf("can't unmarshal notification payload '%s': %v", notification.Payload, err)
			time.Sleep(sleepOnErrorTime)
			continue
		}

		ch <- event
	}
}

func (cl *DBNotifyListener) consumeEvents(ctx context.Context, ch <-chan *NotificationEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			consumer, found := cl.tableNameToConsumer[event.Table]
			if !found {
				log.Printf("no consumer for table %s", event.Table)
				continue
			}
			go consumer.Consume(ctx, event)
		}
	}
}
