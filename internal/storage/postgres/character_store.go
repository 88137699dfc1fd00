// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used by the store.
type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// CharacterStore persists characters and their history in Postgres.
type CharacterStore struct {
	pool pool
}

var _ store.Repository = (*CharacterStore)(nil)

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*CharacterStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CharacterStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*CharacterStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CharacterStore{pool: p}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *CharacterStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CharacterStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *CharacterStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction. Any error from fn rolls the
// transaction back and is returned unchanged.
func (s *CharacterStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const selectCharacter = `
SELECT id, name, level, vocation, world, created_at, updated_at
FROM characters
`

// GetCharacter fetches a character by ID.
func (s *CharacterStore) GetCharacter(ctx context.Context, id int64) (tracker.Character, error) {
	return s.getCharacter(ctx, selectCharacter+"WHERE id = $1", id)
}

// GetCharacterByName fetches a character by exact name.
func (s *CharacterStore) GetCharacterByName(ctx context.Context, name string) (tracker.Character, error) {
	return s.getCharacter(ctx, selectCharacter+"WHERE name = $1", name)
}

func (s *CharacterStore) getCharacter(ctx context.Context, query string, arg any) (tracker.Character, error) {
	var c tracker.Character
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&c.Name,
		&c.Level,
		&c.Vocation,
		&c.World,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Character{}, store.ErrNotFound
		}
		return tracker.Character{}, fmt.Errorf("get character: %w", err)
	}
	return c, nil
}

// ListCharacters returns every character with its latest snapshot.
func (s *CharacterStore) ListCharacters(ctx context.Context) ([]tracker.CharacterState, error) {
	query := `
SELECT c.id, c.name, c.level, c.vocation, c.world, c.created_at, c.updated_at,
	h.id, h.level, h.experience, h.deaths, h.captured_at
FROM characters c
LEFT JOIN LATERAL (
	SELECT id, level, experience, deaths, captured_at
	FROM character_history
	WHERE character_id = c.id
	ORDER BY captured_at DESC, id DESC
	LIMIT 1
) h ON true
ORDER BY c.name;
`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []tracker.CharacterState
	for rows.Next() {
		var (
			item       tracker.CharacterState
			historyID  *int64
			level      *int
			experience *float64
			deaths     *int
			capturedAt *time.Time
		)
		err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Level,
			&item.Vocation,
			&item.World,
			&item.CreatedAt,
			&item.UpdatedAt,
			&historyID,
			&level,
			&experience,
			&deaths,
			&capturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan character row: %w", err)
		}
		if historyID != nil {
			latest := tracker.HistoryEntry{
				ID:          *historyID,
				CharacterID: item.ID,
				Deaths:      deaths,
			}
			if level != nil {
				latest.Level = *level
			}
			if experience != nil {
				latest.Experience = *experience
			}
			if capturedAt != nil {
				latest.CapturedAt = *capturedAt
			}
			item.Latest = &latest
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return out, nil
}

// ListHistory returns snapshots captured at or after since, newest first.
func (s *CharacterStore) ListHistory(
	ctx context.Context,
	characterID int64,
	since time.Time,
) ([]tracker.HistoryEntry, error) {
	query := `
SELECT id, character_id, level, experience, deaths, captured_at
FROM character_history
WHERE character_id = $1 AND captured_at >= $2
ORDER BY captured_at DESC, id DESC;
`
	rows, err := s.pool.Query(ctx, query, characterID, since)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []tracker.HistoryEntry
	for rows.Next() {
		var h tracker.HistoryEntry
		if err := rows.Scan(&h.ID, &h.CharacterID, &h.Level, &h.Experience, &h.Deaths, &h.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// DeleteCharacter removes a character; history rows go with it via ON DELETE CASCADE.
func (s *CharacterStore) DeleteCharacter(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM characters WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// UpsertCharacter inserts or refreshes a character row keyed by name.
// xmax is zero only for freshly inserted tuples.
func (t *pgTx) UpsertCharacter(ctx context.Context, c *tracker.Character) (bool, error) {
	query := `
INSERT INTO characters (name, level, vocation, world, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (name) DO UPDATE
SET level = EXCLUDED.level,
	vocation = EXCLUDED.vocation,
	world = EXCLUDED.world,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, (xmax = 0) AS inserted;
`
	var inserted bool
	err := t.tx.QueryRow(ctx, query, c.Name, c.Level, c.Vocation, c.World, c.UpdatedAt).
		Scan(&c.ID, &c.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert character: %w", err)
	}
	return inserted, nil
}

// AppendHistory inserts a snapshot row.
func (t *pgTx) AppendHistory(ctx context.Context, h *tracker.HistoryEntry) error {
	query := `
INSERT INTO character_history (character_id, level, experience, deaths, captured_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;
`
	err := t.tx.QueryRow(ctx, query, h.CharacterID, h.Level, h.Experience, h.Deaths, h.CapturedAt).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
