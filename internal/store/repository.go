package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate signals a unique constraint violation.
var ErrDuplicate = errors.New("record already exists")

// Tx is the write surface available inside a reconciliation transaction.
type Tx interface {
	// UpsertCharacter inserts the character or overwrites level, vocation,
	// world and updated_at of the row with the same name. It fills in ID and
	// CreatedAt and reports whether a new row was inserted.
	UpsertCharacter(ctx context.Context, c *tracker.Character) (bool, error)
	// AppendHistory inserts a snapshot and fills in its ID.
	AppendHistory(ctx context.Context, h *tracker.HistoryEntry) error
}

// TxRunner runs fn inside one atomic transaction. A non-nil error from fn
// rolls back every write made through the Tx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Repository persists characters and their history.
type Repository interface {
	TxRunner

	// GetCharacter loads a character by id or returns ErrNotFound.
	GetCharacter(ctx context.Context, id int64) (tracker.Character, error)
	// GetCharacterByName loads a character by exact name or returns ErrNotFound.
	GetCharacterByName(ctx context.Context, name string) (tracker.Character, error)
	// ListCharacters returns every character with its latest snapshot, ordered by name.
	ListCharacters(ctx context.Context) ([]tracker.CharacterState, error)
	// ListHistory returns snapshots captured at or after since, newest first.
	ListHistory(ctx context.Context, characterID int64, since time.Time) ([]tracker.HistoryEntry, error)
	// DeleteCharacter removes the character and, by cascade, its history.
	DeleteCharacter(ctx context.Context, id int64) error
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	Close()
}
