package store

import (
	"testing"
	"time"

	"horizon/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBucketRoundtrip(t *testing.T) {
	s := newTestStore(t)

	bucket := core.NewDailyBucket("2026-08-29")
	bucket.ByDomain["example.com"] = 5000
	bucket.ByTopic["technology"] = 5000
	bucket.ByTopicCounts["technology"] = 1
	bucket.TotalMs = 5000
	bucket.SeenPosts["abc"] = core.SeenPost{Topic: "technology", Title: "A long enough title", FirstSeen: time.Now().UTC()}

	if err := s.SaveBucket(bucket); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}

	loaded, err := s.GetBucket("2026-08-29")
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected bucket, got nil")
	}
	if loaded.TotalMs != 5000 {
		t.Errorf("Expected TotalMs 5000, got %d", loaded.TotalMs)
	}
	if loaded.ByDomain["example.com"] != 5000 {
		t.Errorf("Expected domain time 5000, got %d", loaded.ByDomain["example.com"])
	}
	if loaded.ByTopicCounts["technology"] != 1 {
		t.Errorf("Expected topic count 1, got %d", loaded.ByTopicCounts["technology"])
	}
	if _, ok := loaded.SeenPosts["abc"]; !ok {
		t.Error("Expected seen post to survive the roundtrip")
	}
}

func TestGetBucketMissing(t *testing.T) {
	s := newTestStore(t)

	bucket, err := s.GetBucket("2026-01-01")
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if bucket != nil {
		t.Error("Expected nil for missing bucket")
	}
}

func TestListDaysDescending(t *testing.T) {
	s := newTestStore(t)

	for _, day := range []string{"2026-08-27", "2026-08-29", "2026-08-28"} {
		if err := s.SaveBucket(core.NewDailyBucket(day)); err != nil {
			t.Fatalf("SaveBucket failed: %v", err)
		}
	}

	days, err := s.ListDays()
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	want := []string{"2026-08-29", "2026-08-28", "2026-08-27"}
	if len(days) != len(want) {
		t.Fatalf("Expected %d days, got %d", len(want), len(days))
	}
	for i, day := range want {
		if days[i] != day {
			t.Errorf("Expected days[%d] = %s, got %s", i, day, days[i])
		}
	}
}

func TestDeleteBucket(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveBucket(core.NewDailyBucket("2026-08-29")); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}
	if err := s.DeleteBucket("2026-08-29"); err != nil {
		t.Fatalf("DeleteBucket failed: %v", err)
	}

	bucket, err := s.GetBucket("2026-08-29")
	if err != nil {
		t.Fatalf("GetBucket failed: %v", err)
	}
	if bucket != nil {
		t.Error("Expected bucket to be deleted")
	}
}

func TestRecommendationRoundtrip(t *testing.T) {
	s := newTestStore(t)

	current, err := s.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if current != nil {
		t.Fatal("Expected no recommendation in a fresh store")
	}

	snapshot := core.NewDailyBucket("2026-08-28")
	snapshot.TotalMs = 120000

	rec := &core.RecommendationRecord{
		ID:          "rec-1",
		Text:        "Read more about distributed systems.",
		ForDay:      "2026-08-28",
		Backend:     "gemini",
		GeneratedAt: time.Now().UTC(),
		Snapshot:    snapshot,
	}
	if err := s.SaveRecommendation(rec); err != nil {
		t.Fatalf("SaveRecommendation failed: %v", err)
	}

	current, err = s.GetCurrentRecommendation()
	if err != nil {
		t.Fatalf("GetCurrentRecommendation failed: %v", err)
	}
	if current == nil {
		t.Fatal("Expected a recommendation record")
	}
	if current.ForDay != "2026-08-28" {
		t.Errorf("Expected ForDay 2026-08-28, got %s", current.ForDay)
	}
	if current.Snapshot == nil || current.Snapshot.TotalMs != 120000 {
		t.Error("Expected snapshot to survive the roundtrip")
	}
}

func TestKVNamespace(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	values, err := s.Get("a", "b", "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if values["a"] != "1" || values["b"] != "2" {
		t.Errorf("Unexpected values: %v", values)
	}
	if _, ok := values["missing"]; ok {
		t.Error("Expected missing key to be absent from the mapping")
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	values, err = s.Get("a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := values["a"]; ok {
		t.Error("Expected removed key to be absent")
	}
}

func TestStatsAndClear(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveBucket(core.NewDailyBucket("2026-08-29")); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.BucketCount != 1 {
		t.Errorf("Expected 1 bucket, got %d", stats.BucketCount)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	stats, err = s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.BucketCount != 0 {
		t.Errorf("Expected 0 buckets after clear, got %d", stats.BucketCount)
	}
}
