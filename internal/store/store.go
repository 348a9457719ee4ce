package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"horizon/internal/core"
)

// Store is the SQLite-backed persistence layer. Daily buckets and
// recommendation records live in indexed tables keyed by date; the kv table
// carries the flat get/set/remove namespace used by the embedding cache and
// the scheduler's processed-day marker. All writes are last-write-wins.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with a SQLite database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "horizon.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	bucketsTable := `
	CREATE TABLE IF NOT EXISTS buckets (
		day TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME
	);`

	recommendationsTable := `
	CREATE TABLE IF NOT EXISTS recommendations (
		id TEXT PRIMARY KEY,
		text TEXT,
		for_day TEXT,
		backend TEXT,
		generated_at DATETIME,
		snapshot TEXT
	);`

	kvTable := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	);`

	tables := []string{bucketsTable, recommendationsTable, kvTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBucket writes the full bucket record for its day.
func (s *Store) SaveBucket(bucket *core.DailyBucket) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("failed to encode bucket %s: %w", bucket.Day, err)
	}

	query := `
	INSERT OR REPLACE INTO buckets (day, data, updated_at)
	VALUES (?, ?, ?)`

	_, err = s.db.Exec(query, bucket.Day, string(data), time.Now().UTC())
	return err
}

// GetBucket retrieves the bucket for a day, or nil when none exists.
func (s *Store) GetBucket(day string) (*core.DailyBucket, error) {
	row := s.db.QueryRow(`SELECT data FROM buckets WHERE day = ?`, day)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bucket: %w", err)
	}

	var bucket core.DailyBucket
	if err := json.Unmarshal([]byte(data), &bucket); err != nil {
		return nil, fmt.Errorf("failed to decode bucket %s: %w", day, err)
	}
	return &bucket, nil
}

// ListDays returns all bucket days, most recent first.
func (s *Store) ListDays() ([]string, error) {
	rows, err := s.db.Query(`SELECT day FROM buckets ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// DeleteBucket removes one day's bucket record.
func (s *Store) DeleteBucket(day string) error {
	_, err := s.db.Exec(`DELETE FROM buckets WHERE day = ?`, day)
	return err
}

// SaveRecommendation persists a recommendation record, snapshot included,
// as one logical row.
func (s *Store) SaveRecommendation(rec *core.RecommendationRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", rec.ForDay, err)
	}

	query := `
	INSERT OR REPLACE INTO recommendations (id, text, for_day, backend, generated_at, snapshot)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query,
		rec.ID,
		rec.Text,
		rec.ForDay,
		rec.Backend,
		rec.GeneratedAt,
		string(snapshot),
	)
	return err
}

// GetCurrentRecommendation returns the most recently generated recommendation
// record, or nil when none has been recorded yet.
func (s *Store) GetCurrentRecommendation() (*core.RecommendationRecord, error) {
	query := `
	SELECT id, text, for_day, backend, generated_at, snapshot
	FROM recommendations
	ORDER BY generated_at DESC
	LIMIT 1`

	row := s.db.QueryRow(query)

	var rec core.RecommendationRecord
	var snapshot string
	err := row.Scan(&rec.ID, &rec.Text, &rec.ForDay, &rec.Backend, &rec.GeneratedAt, &snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}

	if snapshot != "" && snapshot != "null" {
		var bucket core.DailyBucket
		if err := json.Unmarshal([]byte(snapshot), &bucket); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for %s: %w", rec.ForDay, err)
		}
		rec.Snapshot = &bucket
	}

	return &rec, nil
}

// Get reads values for the given keys from the flat kv namespace.
// Missing keys are simply absent from the returned mapping.
func (s *Store) Get(keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		row := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key)
		var value string
		err := row.Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read key %s: %w", key, err)
		}
		values[key] = value
	}
	return values, nil
}

// Set writes all pairs into the kv namespace, last-write-wins.
func (s *Store) Set(pairs map[string]string) error {
	for key, value := range pairs {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write key %s: %w", key, err)
		}
	}
	return nil
}

// Remove deletes keys from the kv namespace.
func (s *Store) Remove(keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to remove key %s: %w", key, err)
		}
	}
	return nil
}

// Stats represents store statistics
type Stats struct {
	BucketCount         int
	RecommendationCount int
	StoreSize           int64
	LastUpdated         time.Time
}

// GetStats returns statistics about the store
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM buckets":         &stats.BucketCount,
		"SELECT COUNT(*) FROM recommendations": &stats.RecommendationCount,
	}

	for query, target := range queries {
		err := s.db.QueryRow(query).Scan(target)
		if err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.StoreSize = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// Clear removes all persisted data
func (s *Store) Clear() error {
	tables := []string{"buckets", "recommendations", "kv"}

	for _, table := range tables {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return fmt.Errorf("failed to clear %s table: %w", table, err)
		}
	}

	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}
