package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taleon-tracker/internal/storage/memory"
	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// stepClock advances by a minute on every call.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newClock() *stepClock {
	return &stepClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
}

func intPtr(v int) *int { return &v }

func success(level int, vocation string, exp float64) tracker.ScrapeResult {
	return tracker.Success(tracker.Profile{
		Level:      level,
		Vocation:   vocation,
		World:      "San",
		Experience: exp,
		Deaths:     intPtr(level / 10),
	})
}

func TestReconcileCreatesOnFirstSuccess(t *testing.T) {
	t.Parallel()

	repo := memory.NewCharacterStore()
	r := New(repo, newClock())

	out, err := r.Reconcile(context.Background(), "Alice", success(10, "Knight", 500))
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, "Alice", out.Character.Name)
	assert.Equal(t, out.Character.ID, out.Snapshot.CharacterID)
	assert.Equal(t, out.Character.UpdatedAt, out.Snapshot.CapturedAt)
	assert.Equal(t, 1, repo.HistoryCount(out.Character.ID))
}

func TestReconcileHistoryIsAppendOnly(t *testing.T) {
	t.Parallel()

	repo := memory.NewCharacterStore()
	r := New(repo, newClock())
	ctx := context.Background()

	const n = 5
	var id int64
	for i := 1; i <= n; i++ {
		out, err := r.Reconcile(ctx, "Bob", success(10*i, []string{"Knight", "Elite Knight"}[i%2], float64(i*1000)))
		require.NoError(t, err)
		assert.Equal(t, i == 1, out.Created)
		id = out.Character.ID
	}

	c, err := repo.GetCharacter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, c.Level)
	assert.Equal(t, "Elite Knight", c.Vocation)
	assert.Equal(t, "San", c.World)

	entries, err := repo.ListHistory(ctx, id, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, n)
	seen := make(map[time.Time]bool)
	for _, e := range entries {
		assert.False(t, seen[e.CapturedAt], "duplicate timestamp %v", e.CapturedAt)
		seen[e.CapturedAt] = true
	}
	assert.Equal(t, c.UpdatedAt, entries[0].CapturedAt)

	list, err := repo.ListCharacters(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReconcileNonSuccessMutatesNothing(t *testing.T) {
	t.Parallel()

	results := []tracker.ScrapeResult{
		tracker.NotFound("gone"),
		tracker.ParseFailure("no table"),
		tracker.Upstream(tracker.NewUpstreamError("https://x", 503, nil)),
	}
	for _, res := range results {
		t.Run(res.Outcome.String(), func(t *testing.T) {
			t.Parallel()
			repo := memory.NewCharacterStore()
			r := New(repo, newClock())

			_, err := r.Reconcile(context.Background(), "Ghost", res)
			require.ErrorIs(t, err, ErrNotReconcilable)
			assert.NotErrorIs(t, err, tracker.ErrPersistence)

			_, err = repo.GetCharacterByName(context.Background(), "Ghost")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

// faultyRepo fails AppendHistory after the character row has been staged.
type faultyRepo struct {
	*memory.CharacterStore
	err error
}

func (f *faultyRepo) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.CharacterStore.WithTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, err: f.err})
	})
}

type faultyTx struct {
	store.Tx
	err error
}

func (f *faultyTx) AppendHistory(context.Context, *tracker.HistoryEntry) error {
	return f.err
}

func TestReconcileRollsBackOnPersistenceFault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewCharacterStore()
	clock := newClock()

	existing, err := New(repo, clock).Reconcile(ctx, "Carol", success(20, "Druid", 100))
	require.NoError(t, err)
	before, err := repo.ListCharacters(ctx)
	require.NoError(t, err)

	boom := errors.New("disk full")
	faulty := New(&faultyRepo{CharacterStore: repo, err: boom}, clock)

	_, err = faulty.Reconcile(ctx, "Carol", success(99, "Elder Druid", 9999))
	require.ErrorIs(t, err, tracker.ErrPersistence)
	require.ErrorIs(t, err, boom)

	_, err = faulty.Reconcile(ctx, "NewGuy", success(5, "Sorcerer", 1))
	require.ErrorIs(t, err, tracker.ErrPersistence)

	after, err := repo.ListCharacters(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, repo.HistoryCount(existing.Character.ID))
	_, err = repo.GetCharacterByName(ctx, "NewGuy")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
