package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"horizon/internal/core"
	"horizon/internal/engagement"
	"horizon/internal/logger"
	"horizon/internal/recommend"
	"horizon/internal/store"
)

const (
	// MinEngagementMs is the sufficiency gate: a bucket below one minute of
	// total engagement is marked processed without invoking a backend.
	MinEngagementMs int64 = 60000

	// markerKey stores the last day a summarization attempt ran for.
	// Written before any backend call, it makes generation at-most-once
	// per day even across rapid or concurrent checks.
	markerKey = "last_processed_day"
)

// Scheduler owns the day rollover state machine: it detects day boundaries,
// selects the bucket to summarize, enforces the sufficiency gate, invokes
// recommendation generation at most once per qualifying day, and retires
// stale buckets. All scheduler state lives on this struct; the
// Check/generate path is single-flight with a FIFO waiter queue.
type Scheduler struct {
	db       *store.Store
	primary  recommend.Backend
	fallback recommend.Backend
	nowFunc  func() time.Time

	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// New creates a scheduler over the given store and backends. fallback may
// be nil when no secondary backend is configured.
func New(db *store.Store, primary, fallback recommend.Backend) *Scheduler {
	return &Scheduler{
		db:       db,
		primary:  primary,
		fallback: fallback,
		nowFunc:  time.Now,
	}
}

// Check runs one summarization check. Safe to call repeatedly and from
// independent timers: concurrent calls queue FIFO behind the in-flight one,
// and the persisted processed marker keeps generation at-most-once per day.
func (s *Scheduler) Check(ctx context.Context) {
	s.acquire()
	defer s.release()
	s.check(ctx)
}

func (s *Scheduler) acquire() {
	s.mu.Lock()
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
		return
	}
	wait := make(chan struct{})
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()
	<-wait
}

func (s *Scheduler) release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(next)
		return
	}
	s.busy = false
	s.mu.Unlock()
}

func (s *Scheduler) check(ctx context.Context) {
	now := s.nowFunc()
	today := now.Format(core.DayFormat)
	yesterday := now.AddDate(0, 0, -1).Format(core.DayFormat)
	if today == yesterday {
		return
	}

	values, err := s.db.Get(markerKey)
	if err != nil {
		logger.Error("Failed to read processed marker", err)
		return
	}
	if values[markerKey] == yesterday {
		return
	}

	current, err := s.db.GetCurrentRecommendation()
	if err != nil {
		logger.Error("Failed to read current recommendation", err)
	}
	if current != nil && current.ForDay == yesterday {
		return
	}

	// First durable effect of the attempt, success or failure: without the
	// marker written we must not touch a backend.
	if err := s.db.Set(map[string]string{markerKey: yesterday}); err != nil {
		logger.Error("Failed to write processed marker, skipping generation", err)
		return
	}

	bucket := s.selectBucket(today, yesterday)
	if bucket == nil {
		logger.Debug("No bucket available for summarization", "yesterday", yesterday)
		return
	}
	if bucket.TotalMs < MinEngagementMs {
		logger.Info("Bucket below engagement threshold, skipping generation",
			"day", bucket.Day, "total_ms", bucket.TotalMs)
		return
	}

	summary := engagement.Summarize(bucket)
	text, backend := s.invoke(ctx, summary)
	if text == "" {
		logger.Warn("No recommendation generated", "day", bucket.Day)
		return
	}

	rec := &core.RecommendationRecord{
		ID:          uuid.NewString(),
		Text:        text,
		ForDay:      bucket.Day,
		GeneratedAt: s.nowFunc().UTC(),
		Backend:     backend,
		Snapshot:    bucket,
	}
	if err := s.db.SaveRecommendation(rec); err != nil {
		logger.Error("Failed to persist recommendation", err, "day", bucket.Day)
		return
	}
	logger.Info("Recommendation recorded", "day", bucket.Day, "backend", backend)
}

// selectBucket prefers yesterday's bucket, falling back to the most recent
// bucket strictly before today. The fallback has no staleness bound: after
// a long offline stretch it can pick a day far in the past.
func (s *Scheduler) selectBucket(today, yesterday string) *core.DailyBucket {
	bucket, err := s.db.GetBucket(yesterday)
	if err != nil {
		logger.Error("Failed to read bucket", err, "day", yesterday)
	}
	if bucket != nil {
		return bucket
	}

	days, err := s.db.ListDays()
	if err != nil {
		logger.Error("Failed to list bucket days", err)
		return nil
	}
	for _, day := range days { // descending, first match wins
		if day < today {
			bucket, err := s.db.GetBucket(day)
			if err != nil {
				logger.Error("Failed to read bucket", err, "day", day)
				return nil
			}
			return bucket
		}
	}
	return nil
}

// invoke calls the primary backend, then exactly one fallback on error or
// empty output. Returns empty text when both attempts fail.
func (s *Scheduler) invoke(ctx context.Context, summary core.BucketSummary) (string, string) {
	text, err := s.primary.Generate(ctx, summary)
	if err == nil && text != "" {
		return text, s.primary.Name()
	}
	logger.Warn("Primary recommendation backend failed",
		"backend", s.primary.Name(), "error", errString(err))

	if s.fallback == nil {
		return "", ""
	}
	text, err = s.fallback.Generate(ctx, summary)
	if err == nil && text != "" {
		return text, s.fallback.Name()
	}
	logger.Warn("Fallback recommendation backend failed",
		"backend", s.fallback.Name(), "error", errString(err))
	return "", ""
}

func errString(err error) string {
	if err == nil {
		return "empty output"
	}
	return err.Error()
}

// Cleanup retires stale buckets. Retained: today's bucket, the day still
// awaiting summarization, and the day the current recommendation snapshot
// was generated for (the snapshot itself lives on the recommendation
// record, so that bucket stays readable even after retirement).
func (s *Scheduler) Cleanup(ctx context.Context) {
	now := s.nowFunc()
	today := now.Format(core.DayFormat)
	yesterday := now.AddDate(0, 0, -1).Format(core.DayFormat)

	keep := map[string]bool{today: true}

	values, err := s.db.Get(markerKey)
	if err != nil {
		logger.Error("Failed to read processed marker during cleanup", err)
		return
	}
	if values[markerKey] != yesterday {
		if pending := s.pendingDay(today, yesterday); pending != "" {
			keep[pending] = true
		}
	}

	current, err := s.db.GetCurrentRecommendation()
	if err != nil {
		logger.Error("Failed to read current recommendation during cleanup", err)
	}
	if current != nil {
		keep[current.ForDay] = true
	}

	days, err := s.db.ListDays()
	if err != nil {
		logger.Error("Failed to list bucket days during cleanup", err)
		return
	}
	for _, day := range days {
		if keep[day] {
			continue
		}
		if err := s.db.DeleteBucket(day); err != nil {
			logger.Error("Failed to delete stale bucket", err, "day", day)
			continue
		}
		logger.Debug("Retired stale bucket", "day", day)
	}
}

// pendingDay mirrors selectBucket but only resolves the day key.
func (s *Scheduler) pendingDay(today, yesterday string) string {
	bucket, err := s.db.GetBucket(yesterday)
	if err == nil && bucket != nil {
		return yesterday
	}
	days, err := s.db.ListDays()
	if err != nil {
		return ""
	}
	for _, day := range days {
		if day < today {
			return day
		}
	}
	return ""
}

// Run drives Check and Cleanup on a fixed tick until the context ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Scheduler running", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Check(ctx)
			s.Cleanup(ctx)
		}
	}
}
