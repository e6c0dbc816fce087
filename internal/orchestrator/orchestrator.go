// Package orchestrator drives a batch analysis job end to end: upload,
// analysis polling, result retrieval, automatic retry, and cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fishdash/internal/api"
	"fishdash/internal/faults"
	"fishdash/internal/history"
	"fishdash/internal/metrics"
)

// Stage identifies where a job is in its lifecycle.
type Stage int

const (
	StageIdle Stage = iota
	StageUploading
	StageAnalyzing
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageUploading:
		return "uploading"
	case StageAnalyzing:
		return "analyzing"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Live reports whether the stage denotes a running job.
func (s Stage) Live() bool {
	return s == StageUploading || s == StageAnalyzing
}

var (
	// ErrJobInProgress is returned by Start while another job is live.
	ErrJobInProgress = errors.New("a batch job is already in progress")
	// ErrNoFailedJob is returned by Retry when there is nothing to retry.
	ErrNoFailedJob = errors.New("no failed job to retry")
)

// Job is an immutable snapshot of the current job state.
type Job struct {
	Stage      Stage
	BatchID    string
	Upload     api.BatchUploadProgress
	Analysis   *api.AnalysisProgress
	Result     *api.ComprehensiveBatchResult
	FirstPage  *api.PaginatedResults
	Err        *faults.Classification
	RetryCount int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RemoteClient is the slice of the API client the orchestrator needs.
type RemoteClient interface {
	UploadBatch(ctx context.Context, files []api.File, cfg api.AnalysisConfig, onProgress api.UploadProgressFunc) (*api.BatchUploadResponse, error)
	StartAnalysis(ctx context.Context, req api.BatchAnalysisRequest) (*api.BatchAnalysisStarted, error)
	GetProgress(ctx context.Context, batchID string) (*api.AnalysisProgress, error)
	GetComprehensive(ctx context.Context, batchID string) (*api.ComprehensiveBatchResult, error)
	GetPaginatedResults(ctx context.Context, batchID string, query api.ResultsQuery) (*api.PaginatedResults, error)
	CancelBatch(ctx context.Context, batchID string) (*api.CancelResponse, error)
}

// Recorder persists finished jobs. A nil recorder disables persistence.
type Recorder interface {
	Record(ctx context.Context, record history.ActivityRecord) error
}

// Options tunes the orchestrator's timing and limits.
type Options struct {
	// PollInterval is the delay between analysis progress polls.
	PollInterval time.Duration
	// MaxPollIterations caps the poll loop; exceeding it fails the job
	// as a timeout rather than a remote failure.
	MaxPollIterations int
	// MaxRetries caps automatic retries of transient failures.
	MaxRetries int
	// RetryBase seeds the exponential retry backoff.
	RetryBase time.Duration
	// MinFiles is the minimum batch size accepted by Start.
	MinFiles int
}

// DefaultOptions returns the production timing and limits.
func DefaultOptions() Options {
	return Options{
		PollInterval:      time.Second,
		MaxPollIterations: 600,
		MaxRetries:        3,
		RetryBase:         time.Second,
		MinFiles:          2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxPollIterations <= 0 {
		o.MaxPollIterations = d.MaxPollIterations
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	if o.MinFiles <= 0 {
		o.MinFiles = d.MinFiles
	}
	return o
}

// Orchestrator runs at most one batch job at a time. Job state is
// mutated only by the job goroutine and its callbacks, always under the
// lock, and snapshots are published through a latest-value event stream.
type Orchestrator struct {
	client   RemoteClient
	recorder Recorder
	opts     Options
	logger   *zap.Logger

	mu        sync.Mutex
	job       Job
	files     []api.File
	cfg       api.AnalysisConfig
	cancel    context.CancelFunc
	cancelled bool
	gen       int
	done      chan struct{}
	events    chan Job
}

// New builds an Orchestrator. recorder may be nil.
func New(client RemoteClient, recorder Recorder, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client:   client,
		recorder: recorder,
		opts:     opts.withDefaults(),
		logger:   logger,
		events:   make(chan Job, 1),
	}
}

// Events returns the snapshot stream. It is latest-value: a slow
// consumer sees the newest snapshot, never a backlog.
func (o *Orchestrator) Events() <-chan Job {
	return o.events
}

// Snapshot returns the current job state.
func (o *Orchestrator) Snapshot() Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job
}

// Done returns a channel closed when the current job's goroutine exits.
// It returns a closed channel when no job has been started.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return o.done
}

// Start validates the batch and launches the job goroutine. Validation
// failures are reported synchronously and leave the orchestrator idle.
func (o *Orchestrator) Start(ctx context.Context, files []api.File, cfg api.AnalysisConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job.Stage.Live() {
		return ErrJobInProgress
	}
	if len(files) < o.opts.MinFiles {
		return &faults.KindError{
			Kind:    faults.Validation,
			Message: fmt.Sprintf("batch requires at least %d files, got %d", o.opts.MinFiles, len(files)),
		}
	}

	o.files = files
	o.cfg = cfg
	o.launchLocked(ctx, 0)
	return nil
}

// Retry re-runs a failed job from the upload phase with a fresh retry
// budget.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job.Stage != StageFailed {
		return ErrNoFailedJob
	}
	o.launchLocked(ctx, 0)
	return nil
}

// launchLocked resets the snapshot and starts the job goroutine. The
// caller must hold the lock.
func (o *Orchestrator) launchLocked(ctx context.Context, retryCount int) {
	o.gen++
	o.cancelled = false
	o.job = Job{
		Stage:      StageUploading,
		RetryCount: retryCount,
		StartedAt:  time.Now(),
	}
	metrics.JobStage.Set(float64(StageUploading))
	o.emitLocked()

	jobCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.run(jobCtx, o.gen, o.done)
}

// Cancel aborts the live job, if any. The remote cancellation is best
// effort and never blocks the local transition back to idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if !o.job.Stage.Live() {
		o.mu.Unlock()
		return
	}

	o.cancelled = true
	batchID := o.job.BatchID
	cancel := o.cancel
	o.job = Job{Stage: StageIdle}
	metrics.JobStage.Set(float64(StageIdle))
	metrics.JobsTotal.WithLabelValues("cancelled").Inc()
	o.emitLocked()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if batchID != "" {
		go func() {
			ctx, cancelReq := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelReq()
			if _, err := o.client.CancelBatch(ctx, batchID); err != nil {
				o.logger.Warn("remote batch cancellation failed",
					zap.String("batch_id", batchID),
					zap.Error(err))
			}
		}()
	}
}

// Reset clears a terminal job back to idle. Live jobs must be cancelled
// first.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job.Stage.Live() {
		return ErrJobInProgress
	}
	o.job = Job{Stage: StageIdle}
	metrics.JobStage.Set(float64(StageIdle))
	o.emitLocked()
	return nil
}

// run executes upload, analysis, and retrieval, retrying transient
// failures with exponential backoff.
func (o *Orchestrator) run(ctx context.Context, gen int, done chan struct{}) {
	defer close(done)

	for {
		cls, err := o.execute(ctx, gen)
		if err == nil {
			return
		}
		if ctx.Err() != nil || !o.current(gen) {
			// Cancelled; the snapshot has already moved on.
			return
		}
		if cls == nil {
			c := faults.Classify(err)
			cls = &c
		}

		retryCount, retrying := o.scheduleRetryLocked(gen, *cls)
		if !retrying {
			o.fail(gen, *cls)
			return
		}

		delay := faults.Backoff(o.opts.RetryBase, retryCount-1)
		o.logger.Info("retrying batch job after transient failure",
			zap.String("kind", string(cls.Kind)),
			zap.Int("retry", retryCount),
			zap.Duration("backoff", delay))
		metrics.JobRetriesTotal.Inc()

		if !sleep(ctx, delay) {
			return
		}
	}
}

// scheduleRetryLocked decides whether the failure is retried and, if so,
// resets the snapshot back to the upload stage.
func (o *Orchestrator) scheduleRetryLocked(gen int, cls faults.Classification) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.currentLocked(gen) {
		return 0, false
	}
	if !cls.Kind.Retryable() || o.job.RetryCount >= o.opts.MaxRetries {
		return o.job.RetryCount, false
	}

	o.job.RetryCount++
	o.job.Stage = StageUploading
	o.job.BatchID = ""
	o.job.Upload = api.BatchUploadProgress{}
	o.job.Analysis = nil
	metrics.JobStage.Set(float64(StageUploading))
	o.emitLocked()
	return o.job.RetryCount, true
}

// execute runs one attempt. A non-nil Classification overrides the
// default classification of the returned error.
func (o *Orchestrator) execute(ctx context.Context, gen int) (*faults.Classification, error) {
	resp, err := o.client.UploadBatch(ctx, o.files, o.cfg, func(p api.BatchUploadProgress) {
		o.mutate(gen, func(j *Job) {
			j.Upload = p
		})
	})
	if err != nil {
		return nil, fmt.Errorf("batch upload failed: %w", err)
	}

	images := make([]string, 0, len(resp.UploadedFiles))
	for _, f := range resp.UploadedFiles {
		images = append(images, f.SavedFilename)
	}

	started, err := o.client.StartAnalysis(ctx, api.BatchAnalysisRequest{
		Images:                images,
		GridSquareSizeInches:  o.cfg.GridSquareSizeInches,
		IncludeVisualizations: o.cfg.IncludeVisualizations,
		BatchID:               resp.BatchID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start batch analysis: %w", err)
	}

	o.mutate(gen, func(j *Job) {
		j.Stage = StageAnalyzing
		j.BatchID = started.BatchID
		metrics.JobStage.Set(float64(StageAnalyzing))
	})

	progress, cls, err := o.poll(ctx, gen, started.BatchID)
	if err != nil {
		return cls, err
	}

	firstPage, err := o.client.GetPaginatedResults(ctx, started.BatchID, api.DefaultResultsQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first results page: %w", err)
	}
	comprehensive, err := o.client.GetComprehensive(ctx, started.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comprehensive results: %w", err)
	}

	o.mutate(gen, func(j *Job) {
		j.Stage = StageCompleted
		j.Analysis = progress
		j.FirstPage = firstPage
		j.Result = comprehensive
		j.FinishedAt = time.Now()
		metrics.JobStage.Set(float64(StageCompleted))
		metrics.JobsTotal.WithLabelValues("completed").Inc()
	})
	o.record(gen, "completed", nil)
	return nil, nil
}

// poll watches analysis progress until the batch reaches a terminal
// status or the iteration ceiling is hit.
func (o *Orchestrator) poll(ctx context.Context, gen int, batchID string) (*api.AnalysisProgress, *faults.Classification, error) {
	for i := 0; i < o.opts.MaxPollIterations; i++ {
		progress, err := o.client.GetProgress(ctx, batchID)
		if err != nil {
			return nil, nil, fmt.Errorf("progress poll failed: %w", err)
		}
		metrics.PollIterationsTotal.Inc()

		o.mutate(gen, func(j *Job) {
			j.Analysis = progress
		})

		switch progress.Status {
		case api.StatusCompleted:
			return progress, nil, nil
		case api.StatusFailed:
			cls := faults.Describe(faults.Domain)
			cls.Message = fmt.Sprintf("analysis failed remotely: %d of %d images failed",
				progress.FailedImages, progress.TotalImages)
			return nil, &cls, errors.New(cls.Message)
		}

		if !sleep(ctx, o.opts.PollInterval) {
			return nil, nil, ctx.Err()
		}
	}

	cls := faults.Describe(faults.Timeout)
	return nil, &cls, fmt.Errorf("analysis did not finish within %d polls", o.opts.MaxPollIterations)
}

// fail marks the job failed with a classified error.
func (o *Orchestrator) fail(gen int, cls faults.Classification) {
	o.mutate(gen, func(j *Job) {
		j.Stage = StageFailed
		j.Err = &cls
		j.FinishedAt = time.Now()
		metrics.JobStage.Set(float64(StageFailed))
		metrics.JobsTotal.WithLabelValues("failed").Inc()
	})
	o.record(gen, "failed", &cls)
}

// record persists the finished job. Persistence failures are logged,
// never surfaced.
func (o *Orchestrator) record(gen int, status string, cls *faults.Classification) {
	if o.recorder == nil {
		return
	}

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	rec := history.ActivityRecord{
		BatchID:    o.job.BatchID,
		Status:     status,
		StartedAt:  o.job.StartedAt,
		FinishedAt: o.job.FinishedAt,
	}
	if !rec.FinishedAt.IsZero() {
		rec.DurationSeconds = rec.FinishedAt.Sub(rec.StartedAt).Seconds()
	}
	if p := o.job.Analysis; p != nil {
		rec.TotalImages = p.TotalImages
		rec.CompletedImages = p.CompletedImages
		rec.FailedImages = p.FailedImages
	}
	if cls != nil {
		rec.ErrorKind = string(cls.Kind)
		rec.ErrorMessage = cls.Message
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(ctx, rec); err != nil {
		o.logger.Warn("failed to record finished job", zap.Error(err))
	}
}

// mutate applies fn to the snapshot and publishes it, unless the job has
// been cancelled or superseded.
func (o *Orchestrator) mutate(gen int, fn func(*Job)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(gen) {
		return
	}
	fn(&o.job)
	o.emitLocked()
}

func (o *Orchestrator) current(gen int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentLocked(gen)
}

func (o *Orchestrator) currentLocked(gen int) bool {
	return o.gen == gen && !o.cancelled
}

// emitLocked publishes the current snapshot, replacing any unread one.
func (o *Orchestrator) emitLocked() {
	select {
	case <-o.events:
	default:
	}
	o.events <- o.job
}

// sleep waits for d or until ctx is cancelled, reporting whether the
// full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
