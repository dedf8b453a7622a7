package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tombola-games/tombola/dbutil"
	"github.com/tombola-games/tombola/he"
	"github.com/tombola-games/tombola/model"
)

// DBStorage is the Postgres-backed Storage.  Rounds are JSON blobs with
// the id and optimistic lock pulled out into columns; the config records
// are singleton JSON rows.
type DBStorage struct {
	db *sql.DB
}

var _ Storage = (*DBStorage)(nil)

func NewDBStorage(ctx context.Context, url string) (*DBStorage, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	return &DBStorage{db: db}, nil
}

// NewDBStorageFromDB wraps an already-open handle (e.g. one built by the
// Cloud SQL connector path in dbutil).
func NewDBStorageFromDB(db *sql.DB) *DBStorage {
	return &DBStorage{db: db}
}

func (s *DBStorage) Close() {
	s.db.Close()
}

func (s *DBStorage) CreateRound(ctx context.Context, r *model.Round) (int64, error) {
	if err := r.CheckInvariants(); err != nil {
		return -1, err
	}
	bytes, err := json.Marshal(r)
	if err != nil {
		return -1, fmt.Errorf("can't marshal round: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO rounds (optimistic_lock, model_data) VALUES (1, $1) RETURNING round_id`,
		bytes).Scan(&id)
	if err != nil {
		return -1, fmt.Errorf("can't insert round: %w", err)
	}
	r.RoundID = id
	r.OptimisticLock = 1
	return id, nil
}

func (s *DBStorage) SaveRound(ctx context.Context, r *model.Round) error {
	if err := r.CheckInvariants(); err != nil {
		return err
	}
	bytes, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("can't marshal round: %w", err)
	}

	tx, err := dbutil.NewTx(ctx, s.db, nil)
	if err != nil {
		return err
	}
	defer tx.MaybeRollback()

	result, err := tx.Exec(ctx,
		`UPDATE rounds SET model_data=$1, optimistic_lock=optimistic_lock+1
		 WHERE round_id=$2 AND optimistic_lock=$3`,
		bytes, r.RoundID, r.OptimisticLock)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the round doesn't exist or someone else updated it.
		// Sequential execution means the latter is a bug, but report it
		// honestly either way.
		var lock int64
		err := tx.QueryRow(ctx, `SELECT optimistic_lock FROM rounds WHERE round_id=$1`, r.RoundID).Scan(&lock)
		if errors.Is(err, sql.ErrNoRows) {
			return he.New(http.StatusNotFound, fmt.Errorf("no such round id %d", r.RoundID))
		}
		if err != nil {
			return err
		}
		return he.HTTPCodedErrorf(http.StatusConflict,
			"optimistic lock conflict on round %d: have %d, got %d", r.RoundID, lock, r.OptimisticLock)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.OptimisticLock++
	return nil
}

func (s *DBStorage) fetchRoundRow(ctx context.Context, query string, args ...any) (*model.Round, error) {
	var id, lock int64
	var bytes []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &lock, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no such round"))
	}
	if err != nil {
		return nil, err
	}

	r := &model.Round{}
	if err := json.Unmarshal(bytes, r); err != nil {
		return nil, fmt.Errorf("can't unmarshal round %d: %w", id, err)
	}
	// These come from the database row, not the JSON.
	r.RoundID = id
	r.OptimisticLock = lock
	return r, nil
}

func (s *DBStorage) FetchRound(ctx context.Context, id int64) (*model.Round, error) {
	r, err := s.fetchRoundRow(ctx,
		`SELECT round_id, optimistic_lock, model_data FROM rounds WHERE round_id=$1`, id)
	if he.IsNotFound(err) {
		return nil, he.New(http.StatusNotFound, fmt.Errorf("no such round id %d", id))
	}
	return r, err
}

func (s *DBStorage) FetchCurrentRound(ctx context.Context) (*model.Round, error) {
	return s.fetchRoundRow(ctx,
		`SELECT round_id, optimistic_lock, model_data FROM rounds ORDER BY round_id DESC LIMIT 1`)
}

func (s *DBStorage) FetchOverview(ctx context.Context, offset, limit int) (*model.Overview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round_id, model_data FROM rounds ORDER BY round_id DESC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overview := &model.Overview{}
	for rows.Next() {
		var id int64
		var bytes []byte
		if err := rows.Scan(&id, &bytes); err != nil {
			return nil, err
		}
		r := model.Round{}
		if err := json.Unmarshal(bytes, &r); err != nil {
			return nil, fmt.Errorf("can't unmarshal round %d: %w", id, err)
		}
		overview.Slugs = append(overview.Slugs, model.RoundSlug{
			RoundID: id,
			Status:  r.Status,
			Players: len(r.Participants),
			Pot:     r.TotalPot,
		})
	}
	return overview, rows.Err()
}

func (s *DBStorage) FetchConfig(ctx context.Context) (*model.Config, error) {
	c := &model.Config{}
	if err := s.fetchSingleton(ctx, "lottery_config", c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *DBStorage) SaveConfig(ctx context.Context, c *model.Config) error {
	return s.saveSingleton(ctx, "lottery_config", c)
}

func (s *DBStorage) FetchSiteConfig(ctx context.Context) (*model.SiteConfig, error) {
	sc := &model.SiteConfig{}
	if err := s.fetchSingleton(ctx, "site_config", sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *DBStorage) SaveSiteConfig(ctx context.Context, sc *model.SiteConfig) error {
	return s.saveSingleton(ctx, "site_config", sc)
}

// Singleton tables hold exactly one JSON row.  The table name is always a
// compile-time constant here; don't pass user input.
func (s *DBStorage) fetchSingleton(ctx context.Context, table string, dest any) error {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT model_data FROM %s LIMIT 1`, table)).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return he.New(http.StatusNotFound, fmt.Errorf("no %s stored", table))
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, dest)
}

func (s *DBStorage) saveSingleton(ctx context.Context, table string, src any) error {
	bytes, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("can't marshal %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (singleton, model_data) VALUES (TRUE, $1)
		 ON CONFLICT (singleton) DO UPDATE SET model_data=EXCLUDED.model_data`, table),
		bytes)
	return err
}
