package optimize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fishdash/internal/metrics"
	"fishdash/internal/resources"
)

// DefaultConcurrency bounds how many thumbnail generations run at once.
const DefaultConcurrency = 4

// Thumbnailer produces a thumbnail for one source image.
type Thumbnailer interface {
	Generate(path string) (*Thumbnail, error)
}

// OptimizedFile maps a source file identity to its derived thumbnail.
type OptimizedFile struct {
	ID             string
	Path           string
	ThumbnailID    string
	OriginalBytes  int64
	ThumbnailBytes int64
	Width          int
	Height         int
}

// Progress is a latest-wins snapshot of pipeline progress.
type Progress struct {
	Processed int
	Failed    int
	Total     int
}

// Pipeline coordinates concurrency-limited, batched thumbnail
// generation. Inputs are processed in groups no larger than the
// concurrency limit: concurrent within a group, sequential across
// groups. Per-file failures are logged and swallowed so thumbnails never
// block the primary analysis workflow.
type Pipeline struct {
	gen         Thumbnailer
	tracker     *resources.Tracker
	concurrency int
	logger      *zap.Logger

	mu       sync.Mutex
	results  map[string]OptimizedFile
	progress Progress
	events   chan Progress
}

// NewPipeline creates a Pipeline. A concurrency of 0 or less uses the
// default.
func NewPipeline(gen Thumbnailer, tracker *resources.Tracker, concurrency int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		gen:         gen,
		tracker:     tracker,
		concurrency: concurrency,
		logger:      logger,
		results:     make(map[string]OptimizedFile),
		events:      make(chan Progress, 1),
	}
}

// Events returns the latest-value progress stream. Slow consumers see
// the newest snapshot, never a backlog.
func (p *Pipeline) Events() <-chan Progress {
	return p.events
}

// ProcessFiles generates thumbnails for the given paths. paths and ids
// must be equal length; a mismatch is a caller error. The returned map
// holds one entry per successfully processed file.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths, ids []string) (map[string]OptimizedFile, error) {
	if len(paths) != len(ids) {
		return nil, fmt.Errorf("paths and ids length mismatch: %d != %d", len(paths), len(ids))
	}

	p.mu.Lock()
	p.progress = Progress{Total: len(paths)}
	p.mu.Unlock()
	p.emit()

	for start := 0; start < len(paths); start += p.concurrency {
		if err := ctx.Err(); err != nil {
			return p.Results(), err
		}

		end := start + p.concurrency
		if end > len(paths) {
			end = len(paths)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(path, id string) {
				defer wg.Done()
				p.processOne(path, id)
			}(paths[i], ids[i])
		}
		wg.Wait()
	}

	return p.Results(), nil
}

func (p *Pipeline) processOne(path, id string) {
	metrics.ThumbnailsInFlight.Inc()
	defer metrics.ThumbnailsInFlight.Dec()

	start := time.Now()
	thumb, err := p.gen.Generate(path)
	metrics.ThumbnailDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("error").Inc()
		p.logger.Warn("thumbnail generation failed",
			zap.String("path", path),
			zap.String("id", id),
			zap.Error(err),
		)
		p.mu.Lock()
		p.progress.Failed++
		p.mu.Unlock()
		p.emit()
		return
	}

	thumbnailID := uuid.NewString()
	p.tracker.Register(thumbnailID, resources.KindThumbnail, thumb.Data, thumb.ThumbnailBytes)
	p.tracker.Pin(thumbnailID)

	p.mu.Lock()
	p.results[id] = OptimizedFile{
		ID:             id,
		Path:           path,
		ThumbnailID:    thumbnailID,
		OriginalBytes:  thumb.OriginalBytes,
		ThumbnailBytes: thumb.ThumbnailBytes,
		Width:          thumb.Width,
		Height:         thumb.Height,
	}
	p.progress.Processed++
	p.mu.Unlock()

	// The thumbnail is recorded; age-based cleanup may reclaim it now.
	p.tracker.Unpin(thumbnailID)

	metrics.ThumbnailsGenerated.WithLabelValues("success").Inc()
	p.emit()
}

// emit publishes the current progress snapshot, coalescing with any
// undelivered previous snapshot.
func (p *Pipeline) emit() {
	p.mu.Lock()
	snapshot := p.progress
	select {
	case <-p.events:
	default:
	}
	p.events <- snapshot
	p.mu.Unlock()
}

// Results returns a copy of the per-file results recorded so far.
func (p *Pipeline) Results() map[string]OptimizedFile {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]OptimizedFile, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

// Cleanup releases the derived thumbnail for one source file.
func (p *Pipeline) Cleanup(id string) {
	p.mu.Lock()
	result, ok := p.results[id]
	if ok {
		delete(p.results, id)
	}
	p.mu.Unlock()

	if ok {
		p.tracker.Unregister(result.ThumbnailID)
	}
}

// CleanupAll releases every derived thumbnail this pipeline produced.
func (p *Pipeline) CleanupAll() {
	p.mu.Lock()
	results := p.results
	p.results = make(map[string]OptimizedFile)
	p.mu.Unlock()

	for _, result := range results {
		p.tracker.Unregister(result.ThumbnailID)
	}
}
