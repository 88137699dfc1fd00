// Package reconciler merges scrape results into persisted character state.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// ErrNotReconcilable is returned for non-success results. Nothing is written.
var ErrNotReconcilable = errors.New("scrape result is not a success")

// Reconciliation describes what a successful reconcile committed.
type Reconciliation struct {
	Character tracker.Character
	Snapshot  tracker.HistoryEntry
	// Created is true when this reconcile inserted the character row.
	Created bool
}

// Reconciler owns the write path: one upsert plus one history append per
// successful scrape, in a single transaction.
type Reconciler struct {
	repo  store.TxRunner
	clock tracker.Clock
}

// New builds a Reconciler.
func New(repo store.TxRunner, clock tracker.Clock) *Reconciler {
	return &Reconciler{repo: repo, clock: clock}
}

// Reconcile applies res for name. Non-success results return
// ErrNotReconcilable without touching storage. A failed transaction is
// rolled back entirely and reported wrapped in tracker.ErrPersistence.
func (r *Reconciler) Reconcile(ctx context.Context, name string, res tracker.ScrapeResult) (Reconciliation, error) {
	if !res.OK() {
		return Reconciliation{}, fmt.Errorf("%w: %s", ErrNotReconcilable, res.Outcome)
	}

	now := r.clock.Now()
	p := res.Profile
	var out Reconciliation
	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		c := tracker.Character{
			Name:      name,
			Level:     p.Level,
			Vocation:  p.Vocation,
			World:     p.World,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := tx.UpsertCharacter(ctx, &c)
		if err != nil {
			return err
		}
		h := tracker.HistoryEntry{
			CharacterID: c.ID,
			Level:       p.Level,
			Experience:  p.Experience,
			Deaths:      p.Deaths,
			CapturedAt:  now,
		}
		if err := tx.AppendHistory(ctx, &h); err != nil {
			return err
		}
		out = Reconciliation{Character: c, Snapshot: h, Created: created}
		return nil
	})
	if err != nil {
		return Reconciliation{}, fmt.Errorf("%w: reconcile %q: %w", tracker.ErrPersistence, name, err)
	}
	return out, nil
}
