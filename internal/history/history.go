// Package history keeps a sqlite ledger of runs so that a repeated trigger
// for the same window does not send the same summary twice.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

// Run is one pipeline execution.
type Run struct {
	bun.BaseModel `bun:"table:runs"`

	ID          string    `bun:"id,pk" json:"id"`
	Mode        string    `bun:"mode,notnull" json:"mode"`
	WindowStart time.Time `bun:"window_start,notnull" json:"window_start"`
	WindowEnd   time.Time `bun:"window_end,notnull" json:"window_end"`
	Digest      string    `bun:"digest,notnull" json:"digest"`
	Events      int       `bun:"events" json:"events"`
	Failures    int       `bun:"failures" json:"failures"`
	DryRun      bool      `bun:"dry_run" json:"dry_run"`
	Delivered   bool      `bun:"delivered" json:"delivered"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Store is the bun-backed ledger.
type Store struct {
	db *bun.DB
}

// Open opens (and creates) the sqlite database at path. ":memory:" works
// for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?mode=rwc"
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// sqlite serializes writers; one connection also keeps :memory: alive.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	// BUNDEBUG=1 logs failed queries, BUNDEBUG=2 logs all of them.
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.FromEnv("BUNDEBUG")))

	s := &Store{db: db}
	if err := s.createSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	if err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().Model((*Run)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewCreateIndex().
			Model((*Run)(nil)).
			Index("runs_window_idx").
			IfNotExists().
			Column("mode", "window_start", "window_end").
			Exec(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("history: create schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Digest is a stable fingerprint of a Summary: identical summaries give
// identical digests.
func Digest(sum model.Summary) (string, error) {
	b, err := json.Marshal(sum)
	if err != nil {
		return "", fmt.Errorf("history: digest: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// NewRun builds a ledger row for sum.
func NewRun(sum model.Summary, dryRun bool, now time.Time) (*Run, error) {
	digest, err := Digest(sum)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:          uuid.NewString(),
		Mode:        string(sum.Mode),
		WindowStart: sum.WindowStart.UTC(),
		WindowEnd:   sum.WindowEnd.UTC(),
		Digest:      digest,
		Events:      sum.EventCount(),
		Failures:    len(sum.Failures),
		DryRun:      dryRun,
		CreatedAt:   now.UTC(),
	}, nil
}

// Record inserts run.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// AlreadyDelivered reports whether a summary with the same mode, window and
// digest has been delivered before.
func (s *Store) AlreadyDelivered(ctx context.Context, run *Run) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*Run)(nil)).
		Where("mode = ?", run.Mode).
		Where("window_start = ?", run.WindowStart).
		Where("window_end = ?", run.WindowEnd).
		Where("digest = ?", run.Digest).
		Where("delivered = ?", true).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("history: lookup: %w", err)
	}
	return exists, nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	runs := make([]Run, 0, limit)
	if err := s.db.NewSelect().
		Model(&runs).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return runs, nil
}
