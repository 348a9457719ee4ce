package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"horizon/internal/core"
	"horizon/internal/recommend"
	"horizon/internal/store"
)

// fakeBackend counts invocations and returns canned output.
type fakeBackend struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Generate(ctx context.Context, summary core.BucketSummary) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

var testNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

const (
	testToday     = "2026-08-29"
	testYesterday = "2026-08-28"
)

func newTestScheduler(t *testing.T, primary, fallback *fakeBackend) (*Scheduler, *store.Store) {
	t.Helper()
	db, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var fb recommend.Backend
	if fallback != nil {
		fb = fallback
	}
	s := New(db, primary, fb)
	s.nowFunc = func() time.Time { return testNow }
	return s, db
}

func seedBucket(t *testing.T, db *store.Store, day string, totalMs int64) {
	t.Helper()
	bucket := core.NewDailyBucket(day)
	bucket.TotalMs = totalMs
	bucket.ByTopic["technology"] = totalMs
	bucket.ByTopicCounts["technology"] = 2
	bucket.SeenPosts["h1"] = core.SeenPost{Topic: "technology", Title: "A valid tech title", FirstSeen: testNow}
	bucket.LRProbabilities["technology"] = core.ConfidenceStat{Sum: 1.7, Count: 2, Average: 0.85}
	if err := db.SaveBucket(bucket); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}
}

func TestCheckGeneratesOncePerDay(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "read more systems papers"}
	s, db := newTestScheduler(t, primary, nil)
	seedBucket(t, db, testYesterday, 120000)

	for i := 0; i < 3; i++ {
		s.Check(context.Background())
	}

	if got := primary.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 backend invocation, got %d", got)
	}

	rec, err := db.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected a recorded recommendation")
	}
	if rec.ForDay != testYesterday {
		t.Errorf("Expected ForDay %s, got %s", testYesterday, rec.ForDay)
	}
	if rec.Backend != "primary" {
		t.Errorf("Expected backend 'primary', got %q", rec.Backend)
	}
	if rec.Snapshot == nil || rec.Snapshot.TotalMs != 120000 {
		t.Error("Expected the bucket snapshot to be frozen into the record")
	}
}

func TestCheckConcurrentCallsSingleInvocation(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)
	seedBucket(t, db, testYesterday, 120000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Check(context.Background())
		}()
	}
	wg.Wait()

	if got := primary.calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 backend invocation under concurrency, got %d", got)
	}
}

func TestCheckBelowThresholdMarksProcessed(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)
	seedBucket(t, db, testYesterday, 30000) // 30s, under the one-minute gate

	s.Check(context.Background())
	s.Check(context.Background())

	if got := primary.calls.Load(); got != 0 {
		t.Errorf("Expected no backend invocation below the threshold, got %d", got)
	}
	rec, err := db.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if rec != nil {
		t.Error("Expected no recommendation record below the threshold")
	}

	values, err := db.Get("last_processed_day")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if values["last_processed_day"] != testYesterday {
		t.Errorf("Expected the day to be marked processed, got %q", values["last_processed_day"])
	}
}

func TestCheckFallbackOnPrimaryError(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("backend down")}
	fallback := &fakeBackend{name: "fallback", text: "fallback recommendation"}
	s, db := newTestScheduler(t, primary, fallback)
	seedBucket(t, db, testYesterday, 120000)

	s.Check(context.Background())

	if primary.calls.Load() != 1 || fallback.calls.Load() != 1 {
		t.Errorf("Expected primary and fallback invoked once each, got %d/%d",
			primary.calls.Load(), fallback.calls.Load())
	}
	rec, err := db.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if rec == nil || rec.Backend != "fallback" {
		t.Error("Expected the fallback backend to produce the record")
	}
}

func TestCheckFallbackOnEmptyPrimaryOutput(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: ""}
	fallback := &fakeBackend{name: "fallback", text: "fallback recommendation"}
	s, db := newTestScheduler(t, primary, fallback)
	seedBucket(t, db, testYesterday, 120000)

	s.Check(context.Background())

	if fallback.calls.Load() != 1 {
		t.Errorf("Expected fallback after empty primary output, got %d calls", fallback.calls.Load())
	}
}

func TestCheckBothBackendsFailStillProcessed(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("down")}
	fallback := &fakeBackend{name: "fallback", err: errors.New("also down")}
	s, db := newTestScheduler(t, primary, fallback)
	seedBucket(t, db, testYesterday, 120000)

	s.Check(context.Background())
	s.Check(context.Background()) // must not retry

	if primary.calls.Load() != 1 || fallback.calls.Load() != 1 {
		t.Errorf("Expected one attempt each with no retry, got %d/%d",
			primary.calls.Load(), fallback.calls.Load())
	}
	rec, err := db.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if rec != nil {
		t.Error("Expected no record when both backends fail")
	}
}

func TestCheckFallsBackToMostRecentDay(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)
	// No bucket for yesterday; an older one exists.
	seedBucket(t, db, "2026-08-25", 120000)

	s.Check(context.Background())

	rec, err := db.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected a record from the fallback day")
	}
	if rec.ForDay != "2026-08-25" {
		t.Errorf("Expected the most recent pre-today bucket to be summarized, got %s", rec.ForDay)
	}
}

func TestCheckSkipsWhenRecordAlreadyDatedYesterday(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)
	seedBucket(t, db, testYesterday, 120000)

	existing := &core.RecommendationRecord{
		ID:          "rec-existing",
		Text:        "already generated",
		ForDay:      testYesterday,
		GeneratedAt: testNow.Add(-time.Hour),
	}
	if err := db.SaveRecommendation(existing); err != nil {
		t.Fatalf("SaveRecommendation failed: %v", err)
	}

	s.Check(context.Background())

	if got := primary.calls.Load(); got != 0 {
		t.Errorf("Expected no invocation when a record already covers yesterday, got %d", got)
	}
}

func TestCleanupRetiresStaleBuckets(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)

	for _, day := range []string{testToday, testYesterday, "2026-08-26", "2026-08-25"} {
		seedBucket(t, db, day, 120000)
	}
	// Yesterday already processed; current recommendation covers 2026-08-26.
	if err := db.Set(map[string]string{"last_processed_day": testYesterday}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	rec := &core.RecommendationRecord{ID: "rec-1", Text: "text", ForDay: "2026-08-26", GeneratedAt: testNow}
	if err := db.SaveRecommendation(rec); err != nil {
		t.Fatalf("SaveRecommendation failed: %v", err)
	}

	s.Cleanup(context.Background())

	days, err := db.ListDays()
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	want := map[string]bool{testToday: true, "2026-08-26": true}
	if len(days) != len(want) {
		t.Fatalf("Expected %d surviving buckets, got %v", len(want), days)
	}
	for _, day := range days {
		if !want[day] {
			t.Errorf("Unexpected surviving bucket %s", day)
		}
	}
}

func TestCleanupKeepsPendingDay(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "recommendation"}
	s, db := newTestScheduler(t, primary, nil)

	seedBucket(t, db, testYesterday, 120000)
	seedBucket(t, db, "2026-08-20", 90000)

	// Nothing processed yet: yesterday awaits summarization and must survive.
	s.Cleanup(context.Background())

	bucket, err := db.GetBucket(testYesterday)
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if bucket == nil {
		t.Error("Expected the pending day's bucket to survive cleanup")
	}
	old, err := db.GetBucket("2026-08-20")
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if old != nil {
		t.Error("Expected the stale bucket to be retired")
	}
}
