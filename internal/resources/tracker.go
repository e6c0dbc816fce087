// Package resources tracks derived in-memory assets (thumbnails and
// scratch buffers) and reclaims them on demand or under memory pressure.
// The tracker is the single owner of all derived-resource lifetimes: no
// other component releases a tracked resource directly.
package resources

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"fishdash/internal/metrics"
)

// Kind identifies what a tracked handle points at.
type Kind string

const (
	// KindThumbnail is a derived preview image whose release goes
	// through the kind's release hook.
	KindThumbnail Kind = "thumbnail"
	// KindScratch is a transient buffer that is simply dropped from
	// tracking.
	KindScratch Kind = "scratch"
)

// ReleaseFunc releases the underlying handle for kinds that need an
// explicit release.
type ReleaseFunc func(handle interface{})

type entry struct {
	id        string
	kind      Kind
	handle    interface{}
	size      int64
	createdAt time.Time
	pinned    bool
}

// Stats summarizes tracked resources for one kind.
type Stats struct {
	Count int
	Bytes int64
}

// Tracker is a registry of derived resources with creation time and
// size. Every Register must be matched by exactly one Unregister (or a
// CleanupAll) to avoid unbounded growth.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*entry
	releasers map[Kind]ReleaseFunc
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReleaser installs the release hook for a kind.
func WithReleaser(kind Kind, fn ReleaseFunc) Option {
	return func(t *Tracker) {
		t.releasers[kind] = fn
	}
}

// WithClock overrides the tracker's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		entries:   make(map[string]*entry),
		releasers: make(map[Kind]ReleaseFunc),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register starts tracking a handle. Registering an id that is already
// tracked replaces the old entry after releasing it.
func (t *Tracker) Register(id string, kind Kind, handle interface{}, size int64) {
	t.mu.Lock()
	if old, ok := t.entries[id]; ok {
		t.release(old)
	}
	t.entries[id] = &entry{
		id:        id,
		kind:      kind,
		handle:    handle,
		size:      size,
		createdAt: t.now(),
	}
	t.mu.Unlock()

	t.logger.Debug("resource registered",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.Int64("size", size),
	)
	t.publishStats()
}

// Unregister stops tracking id and releases its handle. Unregistering
// an unknown id is a no-op.
func (t *Tracker) Unregister(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		t.release(e)
	}
	t.mu.Unlock()

	if ok {
		metrics.ResourcesReclaimed.WithLabelValues("unregister").Inc()
		t.publishStats()
	}
}

// Pin exempts id from age-based cleanup while it is in flight.
// Pinning an unknown id is a no-op.
func (t *Tracker) Pin(id string) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		e.pinned = true
	}
	t.mu.Unlock()
}

// Unpin makes id eligible for age-based cleanup again.
func (t *Tracker) Unpin(id string) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		e.pinned = false
	}
	t.mu.Unlock()
}

// CleanupOlderThan releases every unpinned resource older than maxAge
// and returns how many were reclaimed.
func (t *Tracker) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	var reclaimed int
	for id, e := range t.entries {
		if e.pinned || e.createdAt.After(cutoff) {
			continue
		}
		delete(t.entries, id)
		t.release(e)
		reclaimed++
	}
	t.mu.Unlock()

	if reclaimed > 0 {
		metrics.ResourcesReclaimed.WithLabelValues("age").Add(float64(reclaimed))
		t.logger.Info("reclaimed aged resources", zap.Int("count", reclaimed), zap.Duration("maxAge", maxAge))
		t.publishStats()
	}
	return reclaimed
}

// CleanupAll releases every tracked resource, pinned or not, and
// returns how many were reclaimed.
func (t *Tracker) CleanupAll() int {
	t.mu.Lock()
	reclaimed := len(t.entries)
	for id, e := range t.entries {
		delete(t.entries, id)
		t.release(e)
	}
	t.mu.Unlock()

	if reclaimed > 0 {
		metrics.ResourcesReclaimed.WithLabelValues("all").Add(float64(reclaimed))
		t.publishStats()
	}
	return reclaimed
}

// StatsByKind returns count and byte totals per kind.
func (t *Tracker) StatsByKind() map[Kind]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Kind]Stats)
	for _, e := range t.entries {
		s := out[e.kind]
		s.Count++
		s.Bytes += e.size
		out[e.kind] = s
	}
	return out
}

// Len returns the number of tracked resources.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Handle returns the tracked handle for id, if present.
func (t *Tracker) Handle(id string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// release invokes the kind's release hook. Caller holds t.mu.
func (t *Tracker) release(e *entry) {
	if fn, ok := t.releasers[e.kind]; ok && fn != nil {
		fn(e.handle)
	}
}

func (t *Tracker) publishStats() {
	stats := t.StatsByKind()
	for _, kind := range []Kind{KindThumbnail, KindScratch} {
		s := stats[kind]
		metrics.TrackedResources.WithLabelValues(string(kind)).Set(float64(s.Count))
		metrics.TrackedResourceBytes.WithLabelValues(string(kind)).Set(float64(s.Bytes))
	}
}
