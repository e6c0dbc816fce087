package api

import (
	"io"
	"time"
)

// UploadProgress is the byte-level progress of a single file.
type UploadProgress struct {
	Filename      string
	BytesUploaded int64
	BytesTotal    int64
}

// Percent returns the file's completion percentage.
func (p UploadProgress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesUploaded) / float64(p.BytesTotal) * 100
}

// BatchUploadProgress is the aggregate byte-level progress of a batch
// upload, including the computed transfer rate and time estimate.
type BatchUploadProgress struct {
	CurrentFile    UploadProgress
	FilesUploaded  int
	FilesTotal     int
	BytesUploaded  int64
	BytesTotal     int64
	BytesPerSecond float64
	TimeRemaining  time.Duration
}

// Percent returns the batch's overall completion percentage.
func (p BatchUploadProgress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesUploaded) / float64(p.BytesTotal) * 100
}

// UploadProgressFunc receives progress snapshots during an upload.
// Snapshots are latest-wins; callers must not accumulate deltas.
type UploadProgressFunc func(BatchUploadProgress)

// progressTracker accumulates per-file and aggregate byte counts and
// derives the current rate and remaining-time estimate.
type progressTracker struct {
	onProgress UploadProgressFunc
	started    time.Time
	now        func() time.Time

	filesTotal    int
	filesUploaded int
	bytesTotal    int64
	bytesUploaded int64

	current UploadProgress
}

func newProgressTracker(filesTotal int, bytesTotal int64, onProgress UploadProgressFunc, now func() time.Time) *progressTracker {
	if now == nil {
		now = time.Now
	}
	return &progressTracker{
		onProgress: onProgress,
		started:    now(),
		now:        now,
		filesTotal: filesTotal,
		bytesTotal: bytesTotal,
	}
}

func (t *progressTracker) beginFile(filename string, size int64) {
	t.current = UploadProgress{Filename: filename, BytesTotal: size}
	t.emit()
}

func (t *progressTracker) advance(n int64) {
	t.current.BytesUploaded += n
	t.bytesUploaded += n
	t.emit()
}

func (t *progressTracker) endFile() {
	t.filesUploaded++
	t.emit()
}

func (t *progressTracker) emit() {
	if t.onProgress == nil {
		return
	}

	snapshot := BatchUploadProgress{
		CurrentFile:   t.current,
		FilesUploaded: t.filesUploaded,
		FilesTotal:    t.filesTotal,
		BytesUploaded: t.bytesUploaded,
		BytesTotal:    t.bytesTotal,
	}

	elapsed := t.now().Sub(t.started).Seconds()
	if elapsed > 0 && t.bytesUploaded > 0 {
		snapshot.BytesPerSecond = float64(t.bytesUploaded) / elapsed
		remaining := t.bytesTotal - t.bytesUploaded
		if remaining > 0 && snapshot.BytesPerSecond > 0 {
			snapshot.TimeRemaining = time.Duration(float64(remaining)/snapshot.BytesPerSecond) * time.Second
		}
	}

	t.onProgress(snapshot)
}

// progressWriter forwards writes to w and reports each chunk to the tracker.
type progressWriter struct {
	w       io.Writer
	tracker *progressTracker
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.tracker.advance(int64(n))
	}
	return n, err
}
