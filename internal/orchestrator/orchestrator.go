// Package orchestrator drives the fetch, extract and reconcile pipeline for
// single characters and for full sweeps.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/taleon-tracker/internal/clock/system"
	"github.com/JakeFAU/taleon-tracker/internal/metrics"
	"github.com/JakeFAU/taleon-tracker/internal/reconciler"
	"github.com/JakeFAU/taleon-tracker/internal/store"
	"github.com/JakeFAU/taleon-tracker/internal/tracker"
)

// EventSnapshotRecorded is the event type published after each committed snapshot.
const EventSnapshotRecorded = "snapshot.recorded"

// DefaultPause is the gap between characters during a sweep.
const DefaultPause = 2 * time.Second

var (
	// ErrAlreadyRegistered is returned when registering a known name.
	ErrAlreadyRegistered = errors.New("character already registered")
	// ErrInvalidName is returned for blank names.
	ErrInvalidName = errors.New("character name is required")
)

// Stage is a step of one scrape attempt.
type Stage string

// Scrape stages. A scrape moves Pending → Fetching → Extracting →
// Reconciling and ends in Done or Failed.
const (
	StagePending     Stage = "pending"
	StageFetching    Stage = "fetching"
	StageExtracting  Stage = "extracting"
	StageReconciling Stage = "reconciling"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Report is the outcome of one scrape attempt.
type Report struct {
	Name  string
	State Stage
	// FailedStage is set when State is StageFailed.
	FailedStage    Stage
	Result         tracker.ScrapeResult
	Reconciliation reconciler.Reconciliation
	Err            error
	Duration       time.Duration
}

// OK reports whether the scrape committed a snapshot.
func (r Report) OK() bool {
	return r.State == StageDone
}

// Reason is a human-readable failure description.
func (r Report) Reason() string {
	switch {
	case r.OK():
		return ""
	case r.Err != nil && r.FailedStage == StageReconciling:
		return r.Err.Error()
	case r.Result.Reason != "":
		return r.Result.Reason
	case r.Err != nil:
		return r.Err.Error()
	default:
		return r.Result.Outcome.String()
	}
}

// ScrapeError wraps a failed Report for callers that need an error.
type ScrapeError struct {
	Report Report
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %q failed while %s: %s", e.Report.Name, e.Report.FailedStage, e.Report.Reason())
}

// SweepSummary describes one pass over every registered character.
type SweepSummary struct {
	SweepID   string        `json:"sweep_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    []string      `json:"failed"`
	// Skipped is true when another sweep was already running.
	Skipped bool `json:"skipped"`
}

// Reconciler commits successful results.
type Reconciler interface {
	Reconcile(ctx context.Context, name string, res tracker.ScrapeResult) (reconciler.Reconciliation, error)
}

// Characters is the read side of the repository the orchestrator needs.
type Characters interface {
	GetCharacter(ctx context.Context, id int64) (tracker.Character, error)
	GetCharacterByName(ctx context.Context, name string) (tracker.Character, error)
	ListCharacters(ctx context.Context) ([]tracker.CharacterState, error)
}

// Pauser waits between sweep items.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Config controls pacing, archiving and publishing.
type Config struct {
	// Pause separates consecutive characters in a sweep.
	Pause time.Duration
	// ArchivePrefix is the blob path prefix for raw pages.
	ArchivePrefix string
	// ArchiveFailuresOnly limits archiving to pages that failed extraction.
	ArchiveFailuresOnly bool
	ContentType         string
}

// Deps are the collaborators of an Orchestrator. Archive, Publisher, Hasher
// and IDs are optional; Clock and Pauser have real defaults.
type Deps struct {
	Fetcher    tracker.Fetcher
	Extractor  tracker.Extractor
	Reconciler Reconciler
	Characters Characters
	Archive    tracker.BlobStore
	Publisher  tracker.Publisher
	Hasher     tracker.Hasher
	Clock      tracker.Clock
	IDs        tracker.IDGenerator
	Pauser     Pauser
}

// Orchestrator runs scrapes. Single scrapes may run concurrently with each
// other and with a sweep; at most one sweep runs at a time.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	sweepMu sync.Mutex
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauser{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}
}

// Scrape runs fetch → extract → reconcile for name, stopping at the first
// failing stage. It never retries.
func (o *Orchestrator) Scrape(ctx context.Context, name string) Report {
	start := time.Now()
	report := Report{Name: name, State: StagePending}

	report.State = StageFetching
	html, err := o.deps.Fetcher.Fetch(ctx, name)
	if err != nil {
		report.Result = tracker.Upstream(err)
		report.Err = err
		return o.finish(report, start)
	}

	report.State = StageExtracting
	report.Result = o.deps.Extractor.Extract(html)
	if !report.Result.OK() {
		o.archive(ctx, name, html)
		return o.finish(report, start)
	}
	if !o.cfg.ArchiveFailuresOnly {
		o.archive(ctx, name, html)
	}

	report.State = StageReconciling
	rec, err := o.deps.Reconciler.Reconcile(ctx, name, report.Result)
	if err != nil {
		report.Err = err
		return o.finish(report, start)
	}
	report.Reconciliation = rec
	report.State = StageDone
	o.publish(ctx, rec)
	return o.finish(report, start)
}

// ScrapeOne scrapes name and reports success.
func (o *Orchestrator) ScrapeOne(ctx context.Context, name string) bool {
	return o.Scrape(ctx, name).OK()
}

// ScrapeAll scrapes every registered character sequentially with a fixed
// pause between them. A failure never stops the sweep, and the sweep ignores
// cancellation of ctx once started.
func (o *Orchestrator) ScrapeAll(ctx context.Context) SweepSummary {
	ctx = context.WithoutCancel(ctx)
	summary := SweepSummary{SweepID: o.newSweepID(), StartedAt: o.deps.Clock.Now(), Failed: []string{}}
	if !o.sweepMu.TryLock() {
		summary.Skipped = true
		o.logger.Warn("sweep already running, skipping", zap.String("sweep_id", summary.SweepID))
		return summary
	}
	defer o.sweepMu.Unlock()

	log := o.logger.With(zap.String("sweep_id", summary.SweepID))
	start := time.Now()
	metrics.SweepStarted()

	characters, err := o.deps.Characters.ListCharacters(ctx)
	if err != nil {
		log.Error("list characters failed, sweep aborted", zap.Error(err))
		metrics.ObserveSweep(0, 0, time.Since(start))
		return summary
	}
	summary.Total = len(characters)
	log.Info("sweep started", zap.Int("total", summary.Total))

	for i, c := range characters {
		if i > 0 {
			o.deps.Pauser.Pause(ctx, o.cfg.Pause)
		}
		if o.ScrapeOne(ctx, c.Name) {
			summary.Succeeded++
		} else {
			summary.Failed = append(summary.Failed, c.Name)
		}
	}

	summary.Duration = time.Since(start)
	metrics.ObserveSweep(summary.Succeeded, len(summary.Failed), summary.Duration)
	log.Info("sweep finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("duration", summary.Duration),
	)
	return summary
}

// Register adds a new character by scraping it. The character row is only
// created by a successful reconcile, so a failed registration leaves nothing
// behind.
func (o *Orchestrator) Register(ctx context.Context, name string) (tracker.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return tracker.Character{}, ErrInvalidName
	}
	_, err := o.deps.Characters.GetCharacterByName(ctx, name)
	switch {
	case err == nil:
		return tracker.Character{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	case !errors.Is(err, store.ErrNotFound):
		return tracker.Character{}, fmt.Errorf("lookup %q: %w", name, err)
	}

	report := o.Scrape(ctx, name)
	if !report.OK() {
		return tracker.Character{}, &ScrapeError{Report: report}
	}
	if !report.Reconciliation.Created {
		return tracker.Character{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	return report.Reconciliation.Character, nil
}

// Refresh scrapes the character with the given id and returns the updated
// record. Unknown ids yield store.ErrNotFound.
func (o *Orchestrator) Refresh(ctx context.Context, id int64) (tracker.Character, error) {
	c, err := o.deps.Characters.GetCharacter(ctx, id)
	if err != nil {
		return tracker.Character{}, err
	}
	report := o.Scrape(ctx, c.Name)
	if !report.OK() {
		return tracker.Character{}, &ScrapeError{Report: report}
	}
	return report.Reconciliation.Character, nil
}

func (o *Orchestrator) finish(report Report, start time.Time) Report {
	report.Duration = time.Since(start)
	if report.State == StageDone {
		metrics.ObserveScrape(tracker.OutcomeSuccess.String(), report.Duration)
		o.logger.Info("character scraped",
			zap.String("character", report.Name),
			zap.Int64("character_id", report.Reconciliation.Character.ID),
			zap.Bool("created", report.Reconciliation.Created),
			zap.Duration("duration", report.Duration),
		)
		return report
	}

	report.FailedStage = report.State
	report.State = StageFailed
	outcome := report.Result.Outcome.String()
	if report.FailedStage == StageReconciling {
		outcome = "persistence_error"
	}
	metrics.ObserveScrape(outcome, report.Duration)

	fields := []zap.Field{
		zap.String("character", report.Name),
		zap.String("stage", string(report.FailedStage)),
		zap.String("outcome", outcome),
		zap.String("reason", report.Reason()),
		zap.Duration("duration", report.Duration),
	}
	if report.Result.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", report.Result.StatusCode))
	}
	if report.Result.Timeout {
		fields = append(fields, zap.Bool("timeout", true))
	}
	o.logger.Warn("character scrape failed", fields...)
	return report
}

func (o *Orchestrator) archive(ctx context.Context, name string, html []byte) {
	if o.deps.Archive == nil || o.deps.Hasher == nil {
		return
	}
	hash, err := o.deps.Hasher.Hash(html)
	if err != nil {
		metrics.ObserveArchive(err)
		o.logger.Warn("hash page failed", zap.String("character", name), zap.Error(err))
		return
	}
	path := o.archivePath(name, hash)
	uri, err := o.deps.Archive.PutObject(ctx, path, o.cfg.ContentType, bytes.NewReader(html))
	metrics.ObserveArchive(err)
	if err != nil {
		o.logger.Warn("archive page failed", zap.String("character", name), zap.String("path", path), zap.Error(err))
		return
	}
	o.logger.Debug("page archived", zap.String("character", name), zap.String("uri", uri))
}

func (o *Orchestrator) archivePath(name, hash string) string {
	prefix := strings.Trim(o.cfg.ArchivePrefix, "/")
	return fmt.Sprintf("%s/%s/%d-%s.html", prefix, url.PathEscape(name), o.deps.Clock.Now().Unix(), hash)
}

func (o *Orchestrator) publish(ctx context.Context, rec reconciler.Reconciliation) {
	if o.deps.Publisher == nil {
		return
	}
	event := tracker.SnapshotEvent{
		CharacterID: rec.Character.ID,
		Name:        rec.Character.Name,
		Level:       rec.Snapshot.Level,
		Vocation:    rec.Character.Vocation,
		World:       rec.Character.World,
		Experience:  rec.Snapshot.Experience,
		Deaths:      rec.Snapshot.Deaths,
		CapturedAt:  rec.Snapshot.CapturedAt,
		Created:     rec.Created,
	}
	_, err := o.deps.Publisher.Publish(ctx, EventSnapshotRecorded, event)
	metrics.ObservePublish(err)
	if err != nil {
		o.logger.Warn("publish snapshot failed", zap.String("character", rec.Character.Name), zap.Error(err))
	}
}

func (o *Orchestrator) newSweepID() string {
	if o.deps.IDs == nil {
		return ""
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("sweep id generation failed", zap.Error(err))
		return ""
	}
	return id
}

// TimerPauser sleeps for the delay or until ctx is done.
type TimerPauser struct{}

// Pause blocks for delay.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
