// Package history persists a rolling record of completed batch jobs and
// aggregate session counters to local SQLite storage.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"go.uber.org/zap"

	"fishdash/internal/metrics"
)

const (
	defaultTimeout = 5 * time.Second

	// MaxRecent bounds the rolling activity list; the oldest entry is
	// evicted on overflow.
	MaxRecent = 10

	keyRecentActivity = "recent_activity"
	keySessionStats   = "session_stats"
)

// ActivityRecord is one completed or failed batch job. Records are
// append-only and never mutated after creation.
type ActivityRecord struct {
	ID              string    `json:"id"`
	BatchID         string    `json:"batch_id"`
	Status          string    `json:"status"`
	TotalImages     int       `json:"total_images"`
	CompletedImages int       `json:"completed_images"`
	FailedImages    int       `json:"failed_images"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// SessionStats holds rolling counters derived from recorded jobs.
type SessionStats struct {
	JobsCompleted          int       `json:"jobs_completed"`
	JobsFailed             int       `json:"jobs_failed"`
	ImagesAnalyzed         int       `json:"images_analyzed"`
	ImagesFailed           int       `json:"images_failed"`
	TotalProcessingSeconds float64   `json:"total_processing_seconds"`
	LastUpdated            time.Time `json:"last_updated"`
}

// Store is the durable activity recorder. Both blobs are read and
// written defensively: a corrupt or missing value degrades to an empty
// default, never an error.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens (and if needed creates) the history database at dbPath.
func Open(ctx context.Context, dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close history database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close history database after init failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	logger.Info("history store ready", zap.String("path", dbPath))
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends an activity record, evicting the oldest entry past
// MaxRecent, and folds the job into the session counters.
func (s *Store) Record(ctx context.Context, record ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.readRecent(ctx)
	recent = append([]ActivityRecord{record}, recent...)
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}

	stats := s.readStats(ctx)
	if record.Status == "completed" {
		stats.JobsCompleted++
	} else {
		stats.JobsFailed++
	}
	stats.ImagesAnalyzed += record.CompletedImages
	stats.ImagesFailed += record.FailedImages
	stats.TotalProcessingSeconds += record.DurationSeconds
	stats.LastUpdated = record.FinishedAt

	if err := s.writeJSON(ctx, keyRecentActivity, recent); err != nil {
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := s.writeJSON(ctx, keySessionStats, stats); err != nil {
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.HistoryWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Recent returns the rolling activity list, newest first.
func (s *Store) Recent(ctx context.Context) []ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecent(ctx)
}

// Stats returns the aggregate session counters.
func (s *Store) Stats(ctx context.Context) SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStats(ctx)
}

// Reset clears both the activity list and the session counters.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, "DELETE FROM state WHERE key IN (?, ?)", keyRecentActivity, keySessionStats)
	return err
}

func (s *Store) readRecent(ctx context.Context) []ActivityRecord {
	var recent []ActivityRecord
	if err := s.readJSON(ctx, keyRecentActivity, &recent); err != nil {
		s.logger.Warn("recent activity unreadable, using empty default", zap.Error(err))
		return nil
	}
	return recent
}

func (s *Store) readStats(ctx context.Context) SessionStats {
	var stats SessionStats
	if err := s.readJSON(ctx, keySessionStats, &stats); err != nil {
		s.logger.Warn("session stats unreadable, using empty default", zap.Error(err))
		return SessionStats{}
	}
	return stats
}

func (s *Store) readJSON(ctx context.Context, key string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *Store) writeJSON(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(raw))
	return err
}
