package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/extractor"
	pubmemory "github.com/JakeFAU/taleon-tracker/internal/publisher/memory"
	"github.com/JakeFAU/taleon-tracker/internal/reconciler"
	"github.com/JakeFAU/taleon-tracker/internal/storage/memory"
	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	html, _ := args.Get(0).([]byte)
	return html, args.Error(1)
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixedID struct{}

func (fixedID) NewID() (string, error) { return "sweep-1", nil }

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) { return fmt.Sprintf("h%d", len(data)), nil }

func profilePage(level int) []byte {
	return []byte(fmt.Sprintf(`<html><body><table class="TableContent">
<tr><td colspan="2">Character Information</td></tr>
<tr><td>Level:</td><td>%d</td></tr>
<tr><td>Vocation:</td><td>Knight</td></tr>
</table></body></html>`, level))
}

var notFoundPage = []byte(`<html><body><p>Character does not exist.</p></body></html>`)

type harness struct {
	orch    *Orchestrator
	repo    *memory.CharacterStore
	fetcher *mockFetcher
	pauser  *recordingPauser
	blobs   *memory.BlobStore
	pub     *pubmemory.Publisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	repo := memory.NewCharacterStore()
	clock := &stepClock{now: time.Date(2024, 7, 1, 0, 1, 0, 0, time.UTC)}
	h := &harness{
		repo:    repo,
		fetcher: &mockFetcher{},
		pauser:  &recordingPauser{},
		blobs:   memory.NewBlobStore(),
		pub:     pubmemory.New(),
	}
	h.orch = New(Deps{
		Fetcher:    h.fetcher,
		Extractor:  extractor.New(extractor.DefaultConfig(), nil),
		Reconciler: reconciler.New(repo, clock),
		Characters: repo,
		Archive:    h.blobs,
		Publisher:  h.pub,
		Hasher:     fakeHasher{},
		Clock:      clock,
		IDs:        fixedID{},
		Pauser:     h.pauser,
	}, cfg, zap.NewNop())
	return h
}

func (h *harness) seed(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		h.fetcher.On("Fetch", mock.Anything, name).Return(profilePage(1), nil).Once()
		_, err := h.orch.Register(context.Background(), name)
		require.NoError(t, err)
	}
}

func TestScrapeAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Pause: DefaultPause, ArchiveFailuresOnly: true})
	h.seed(t, "Alice", "Bob", "Carol")

	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(profilePage(11), nil).Once()
	h.fetcher.On("Fetch", mock.Anything, "Bob").
		Return(nil, tracker.NewUpstreamError("https://upstream/Bob", http.StatusBadGateway, nil)).Once()
	h.fetcher.On("Fetch", mock.Anything, "Carol").Return(profilePage(33), nil).Once()

	summary := h.orch.ScrapeAll(context.Background())
	assert.Equal(t, "sweep-1", summary.SweepID)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, []string{"Bob"}, summary.Failed)
	assert.Equal(t, []time.Duration{DefaultPause, DefaultPause}, h.pauser.delays)

	ctx := context.Background()
	for name, want := range map[string]struct{ level, history int }{
		"Alice": {11, 2},
		"Bob":   {1, 1},
		"Carol": {33, 2},
	} {
		c, err := h.repo.GetCharacterByName(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want.level, c.Level, name)
		assert.Equal(t, want.history, h.repo.HistoryCount(c.ID), name)
	}
	h.fetcher.AssertExpectations(t)
}

func TestScrapeAllRunsToCompletionAfterCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.seed(t, "Alice", "Bob")
	h.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(profilePage(2), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := h.orch.ScrapeAll(ctx)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Empty(t, summary.Failed)
}

func TestScrapeAllEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Pause: DefaultPause})
	summary := h.orch.ScrapeAll(context.Background())
	assert.Zero(t, summary.Total)
	assert.Empty(t, h.pauser.delays)
}

func TestRegisterTwiceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(profilePage(5), nil).Once()

	c, err := h.orch.Register(context.Background(), " Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, 5, c.Level)

	_, err = h.orch.Register(context.Background(), "Alice")
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	list, err := h.repo.ListCharacters(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	h.fetcher.AssertExpectations(t)
}

func TestRegisterBlankName(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.orch.Register(context.Background(), "   ")
	require.ErrorIs(t, err, ErrInvalidName)
	h.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRegisterFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ArchiveFailuresOnly: true})
	h.fetcher.On("Fetch", mock.Anything, "Nobody").Return(notFoundPage, nil).Once()

	_, err := h.orch.Register(context.Background(), "Nobody")
	var scrapeErr *ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	assert.Equal(t, StageExtracting, scrapeErr.Report.FailedStage)
	assert.Equal(t, tracker.OutcomeNotFound, scrapeErr.Report.Result.Outcome)

	_, err = h.repo.GetCharacterByName(context.Background(), "Nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, h.blobs.Paths(), 1, "failed page is archived")
	assert.Empty(t, h.pub.Messages())
}

func TestScrapeStopsAtFetchFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.On("Fetch", mock.Anything, "Alice").
		Return(nil, tracker.NewUpstreamError("https://upstream", 0, context.DeadlineExceeded)).Once()

	report := h.orch.Scrape(context.Background(), "Alice")
	assert.False(t, report.OK())
	assert.Equal(t, StageFailed, report.State)
	assert.Equal(t, StageFetching, report.FailedStage)
	assert.Equal(t, tracker.OutcomeUpstreamError, report.Result.Outcome)
	assert.True(t, report.Result.Timeout)
	assert.Empty(t, h.blobs.Paths())
}

func TestScrapePublishesSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ArchiveFailuresOnly: true})
	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(profilePage(9), nil).Once()

	report := h.orch.Scrape(context.Background(), "Alice")
	require.True(t, report.OK(), report.Reason())
	assert.Equal(t, StageDone, report.State)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventSnapshotRecorded, msgs[0].Topic)
	event, ok := msgs[0].Payload.(tracker.SnapshotEvent)
	require.True(t, ok)
	assert.Equal(t, 9, event.Level)
	assert.True(t, event.Created)
	assert.Empty(t, h.blobs.Paths())
}

func TestPublishFailureDoesNotFailScrape(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.pub.FailWith(errors.New("pubsub down"))
	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(profilePage(3), nil).Once()

	assert.True(t, h.orch.ScrapeOne(context.Background(), "Alice"))
	paths := h.blobs.Paths()
	require.Len(t, paths, 1, "successful pages are archived when not failures-only")
	assert.Regexp(t, `^pages/Alice/\d+-h\d+\.html$`, paths[0])
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context, string, tracker.ScrapeResult) (reconciler.Reconciliation, error) {
	return reconciler.Reconciliation{}, fmt.Errorf("%w: boom", tracker.ErrPersistence)
}

func TestScrapeReportsPersistenceFailure(t *testing.T) {
	t.Parallel()

	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, "Alice").Return(profilePage(3), nil).Once()
	pub := pubmemory.New()
	o := New(Deps{
		Fetcher:    f,
		Extractor:  extractor.New(extractor.DefaultConfig(), nil),
		Reconciler: failingReconciler{},
		Characters: memory.NewCharacterStore(),
		Publisher:  pub,
	}, Config{}, nil)

	report := o.Scrape(context.Background(), "Alice")
	assert.Equal(t, StageReconciling, report.FailedStage)
	require.ErrorIs(t, report.Err, tracker.ErrPersistence)
	assert.Contains(t, (&ScrapeError{Report: report}).Error(), "reconciling")
	assert.Empty(t, pub.Messages())
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.orch.Refresh(context.Background(), 404)
	require.ErrorIs(t, err, store.ErrNotFound)

	h.seed(t, "Alice")
	c, err := h.repo.GetCharacterByName(context.Background(), "Alice")
	require.NoError(t, err)

	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(profilePage(77), nil).Once()
	updated, err := h.orch.Refresh(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 77, updated.Level)

	h.fetcher.On("Fetch", mock.Anything, "Alice").Return(nil, tracker.NewUpstreamError("u", 500, nil)).Once()
	_, err = h.orch.Refresh(context.Background(), c.ID)
	var scrapeErr *ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
}

func TestTimerPauserHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	TimerPauser{}.Pause(ctx, time.Hour)
	assert.Less(t, time.Since(start), time.Second)
}
