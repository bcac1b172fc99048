package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/metrics"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// progressEvery is how many records pass between record progress updates.
const progressEvery = 500

// Store is the persistence a [Reconciler] needs.
type Store interface {
	CacheSource
	Begin(ctx context.Context) (repositories.Tx, error)
}

// ReconcileResult summarizes one run.
type ReconcileResult struct {
	RunID            string        `json:"run_id"`
	Files            int           `json:"files"`
	FilesFailed      int           `json:"files_failed"`
	Records          int           `json:"records"`
	Inserted         int           `json:"inserted"`
	TracksCreated    int           `json:"tracks_created"`
	SkippedLocal     int           `json:"skipped_local"`
	SkippedDuplicate int           `json:"skipped_duplicate"`
	SkippedInvalid   int           `json:"skipped_invalid"`
	NotFound         int           `json:"not_found"`
	Abandoned        int           `json:"abandoned"`
	RolledBack       int           `json:"rolled_back"`
	Lookups          int           `json:"lookups"`
	BatchesAbandoned int           `json:"batches_abandoned"`
	CommitFailures   int           `json:"commit_failures"`
	Duration         time.Duration `json:"duration_ns"`
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithBatchSize bounds the distinct track IDs per catalog lookup. Values outside 1..50 use 50.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) { r.batchSize = n }
}

// WithGovernor replaces the default retry policy.
func WithGovernor(g *Governor) Option {
	return func(r *Reconciler) { r.governor = g }
}

// WithBreaker guards each batch lookup, retries included, with b.
func WithBreaker(b *services.Breaker) Option {
	return func(r *Reconciler) { r.breaker = b }
}

// WithLogger sets the logger. Runs are silent by default.
func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithMetrics records run statistics on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Reconciler) { r.metrics = rec }
}

// Reconciler imports streaming history exports into the store.
type Reconciler struct {
	store     Store
	catalog   services.Catalog
	governor  *Governor
	breaker   *services.Breaker
	logger    *log.Logger
	metrics   *metrics.Recorder
	batchSize int
}

// NewReconciler creates a Reconciler over store that resolves unknown tracks with catalog.
func NewReconciler(store Store, catalog services.Catalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		catalog:   catalog,
		logger:    log.New(io.Discard),
		batchSize: services.MaxLookupIDs,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.governor == nil {
		r.governor = &Governor{MaxRetries: DefaultMaxRetries, DefaultWait: DefaultRetryWait, NetworkWait: DefaultRetryWait}
	}
	if r.governor.Logger == nil {
		r.governor.Logger = r.logger
	}
	if r.governor.Metrics == nil {
		r.governor.Metrics = r.metrics
	}
	return r
}

// Run reconciles every history file found under paths.
//
// Only failures to find inputs or load the cache are returned as errors. Unreadable files,
// abandoned batches and failed commits are logged, counted in the result, and the run moves on.
// A cancelled context rolls back the open unit and returns the partial result with ctx's error.
func (r *Reconciler) Run(ctx context.Context, paths []string, progress chan<- ProgressUpdate) (*ReconcileResult, error) {
	start := time.Now()
	res := &ReconcileResult{RunID: shared.GenerateID()}
	logger := shared.WithLogger(r.logger, "run_id", res.RunID)

	files, err := DiscoverInputs(paths)
	if err != nil {
		return res, err
	}
	res.Files = len(files)
	sendProgress(progress, discoverUpdate(len(files)))
	logger.Info("starting import", "files", len(files), "batch_size", r.batchSize)

	cache, err := LoadCatalogCache(ctx, r.store)
	if err != nil {
		return res, err
	}
	tracks, plays := cache.Size()
	sendProgress(progress, loadCacheUpdate(tracks, plays))
	logger.Debug("cache loaded", "tracks", tracks, "plays", plays)

	committer := NewCommitter(r.store.Begin, cache, logger, r.metrics)
	resolver := NewResolver(r.catalog, r.governor, cache, committer, r.batchSize)
	resolver.metrics = r.metrics
	resolver.breaker = r.breaker

	s := &run{
		result:     res,
		cache:      cache,
		classifier: NewClassifier(cache),
		committer:  committer,
		resolver:   resolver,
		logger:     logger,
		metrics:    r.metrics,
		progress:   progress,
	}

	for i, path := range files {
		if err := s.file(ctx, i+1, len(files), path); err != nil {
			lost := committer.Abort()
			res.RolledBack += lost.Plays
			res.Abandoned += resolver.Discard()
			res.Duration = time.Since(start)
			logger.Warn("import cancelled", "rolled_back", lost.Plays, "err", err)
			return res, fmt.Errorf("import cancelled: %w", err)
		}
	}

	res.Duration = time.Since(start)
	r.metrics.Finished(time.Now())
	sendProgress(progress, finishedUpdate(res))
	logger.Info("import finished",
		"records", res.Records, "inserted", res.Inserted, "tracks_created", res.TracksCreated,
		"duplicates", res.SkippedDuplicate, "not_found", res.NotFound,
		"abandoned", res.Abandoned, "rolled_back", res.RolledBack, "duration", res.Duration)
	return res, nil
}

// run is the state of one [Reconciler.Run].
type run struct {
	result     *ReconcileResult
	cache      *CatalogCache
	classifier Classifier
	committer  *Committer
	resolver   *Resolver
	logger     *log.Logger
	metrics    *metrics.Recorder
	progress   chan<- ProgressUpdate
	batch      int
}

func (s *run) file(ctx context.Context, step, total int, path string) error {
	logger := shared.WithLogger(s.logger, "file", filepath.Base(path))
	sendProgress(s.progress, readFileUpdate(step, total, path))

	records, err := models.ReadStreamingHistory(path)
	if err != nil {
		logger.Error("skipping unreadable file", "err", err)
		s.result.FilesFailed++
		return nil
	}
	logger.Info("processing file", "records", len(records))

	before := s.result.Inserted
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.record(ctx, logger, rec)
		if n := i + 1; n%progressEvery == 0 || n == len(records) {
			sendProgress(s.progress, recordsUpdate(n, len(records), path))
		}
	}

	s.drain(ctx, logger)
	s.commit(ctx, logger)
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("file reconciled", "inserted", s.result.Inserted-before)
	return nil
}

func (s *run) record(ctx context.Context, logger *log.Logger, rec models.StreamingRecord) {
	s.result.Records++

	c := s.classifier.Classify(rec)
	switch c.Decision {
	case DecisionSkipLocal:
		s.result.SkippedLocal++
		s.metrics.Play(metrics.OutcomeLocal, 1)
	case DecisionSkipInvalid:
		logger.Debug("skipping record with invalid timestamp", "ts", rec.Timestamp, "track_id", c.TrackID)
		s.result.SkippedInvalid++
		s.metrics.Play(metrics.OutcomeInvalid, 1)
	case DecisionSkipDuplicate:
		s.result.SkippedDuplicate++
		s.metrics.Play(metrics.OutcomeDuplicate, 1)
	case DecisionInsert:
		s.insertKnown(ctx, logger, c)
	case DecisionEnqueue:
		if s.resolver.Add(c.TrackID, c.Key) {
			s.drain(ctx, logger)
			s.commit(ctx, logger)
		}
	}
}

func (s *run) insertKnown(ctx context.Context, logger *log.Logger, c Classification) {
	dup := false
	err := s.committer.Stage(ctx, func(tx repositories.Tx) (Delta, error) {
		play := &models.HistoricalPlay{TrackID: c.Track.ID, PlayedAt: c.Key.PlayedAt, MsPlayed: c.Key.MsPlayed}
		ok, err := tx.InsertHistoricalPlay(ctx, play)
		if err != nil {
			return Delta{}, fmt.Errorf("failed to store play %s: %w", c.Key, err)
		}
		s.cache.RecordPlay(c.Key)
		if !ok {
			dup = true
			return Delta{}, nil
		}
		return Delta{Plays: 1}, nil
	})

	switch {
	case err != nil:
		logger.Debug("play abandoned", "key", c.Key, "err", err)
		s.result.Abandoned++
		s.metrics.Play(metrics.OutcomeAbandoned, 1)
	case dup:
		s.result.SkippedDuplicate++
		s.metrics.Play(metrics.OutcomeDuplicate, 1)
	}
}

func (s *run) drain(ctx context.Context, logger *log.Logger) {
	if s.resolver.Len() == 0 {
		return
	}
	s.batch++
	batchLogger := shared.WithLogger(logger, "batch", s.batch)
	s.resolver.logger = batchLogger
	s.committer.logger = batchLogger

	res := s.resolver.Drain(ctx)
	s.result.Lookups++
	if res.LookupFailed {
		s.result.BatchesAbandoned++
	}
	s.result.NotFound += res.NotFound
	s.result.SkippedDuplicate += res.Duplicates
	s.result.Abandoned += res.Abandoned

	s.metrics.Play(metrics.OutcomeNotFound, res.NotFound)
	s.metrics.Play(metrics.OutcomeDuplicate, res.Duplicates)
	s.metrics.Play(metrics.OutcomeAbandoned, res.Abandoned)

	batchLogger.Debug("batch resolved", "ids", res.IDs, "plays", res.Plays, "not_found", res.NotFound, "staged", res.Staged.Plays)
	sendProgress(s.progress, lookupUpdate(s.batch, res))
}

func (s *run) commit(ctx context.Context, logger *log.Logger) {
	if !s.committer.Pending() {
		return
	}
	s.committer.logger = logger

	d, err := s.committer.Commit(ctx)
	if err != nil {
		s.result.CommitFailures++
		s.result.RolledBack += d.Plays
		s.metrics.Play(metrics.OutcomeRolledBack, d.Plays)
	} else {
		s.result.Inserted += d.Plays
		s.result.TracksCreated += d.Tracks
		s.metrics.Play(metrics.OutcomeInserted, d.Plays)
		for range d.Tracks {
			s.metrics.TrackCreated()
		}
	}
	sendProgress(s.progress, commitUpdate(s.batch, d, err))
}

// DiscoverInputs expands paths into the history files to read, in order.
// A directory contributes its *.json entries sorted by name.
func DiscoverInputs(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input paths", shared.ErrMissingArgument)
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				continue
			}
			files = append(files, filepath.Join(p, e.Name()))
		}
	}
	return files, nil
}
