package core

import "time"

// DayFormat is the layout used for daily bucket keys (local calendar date).
const DayFormat = "2006-01-02"

// MaxEmbeddingSamples caps the diagnostic sample list kept per bucket.
const MaxEmbeddingSamples = 50

// EngagementEvent represents a single consumption event reported by a caller.
type EngagementEvent struct {
	Domain      string    `json:"domain"`       // Site domain the engagement happened on
	ContentType string    `json:"content_type"` // Content-type tag (e.g., "video", "post")
	DeltaMs     int64     `json:"delta_ms"`     // Engagement time delta in milliseconds
	Title       string    `json:"title"`        // Title of the viewed item (may be empty)
	Topic       string    `json:"topic"`        // Topic label when classification ran (empty otherwise)
	ContentHash string    `json:"content_hash"` // Stable content hash of the normalized title
	Confidence  *float64  `json:"confidence"`   // Classifier confidence, nil when not classified
	Embedding   []float64 `json:"embedding"`    // Optional embedding snapshot for diagnostics
	Timestamp   time.Time `json:"timestamp"`    // When the event was observed
}

// SeenPost is the per-day deduplication ledger entry for one content hash.
type SeenPost struct {
	Topic      string    `json:"topic"`      // Topic recorded when the post was first seen
	FirstSeen  time.Time `json:"first_seen"` // When the post was first recorded for this day
	Title      string    `json:"title"`      // Title as observed
	Confidence float64   `json:"confidence"` // Classifier confidence at first sight (0 when absent)
}

// ConfidenceStat tracks a running average of classifier confidence per topic.
type ConfidenceStat struct {
	Sum     float64 `json:"sum"`     // Sum of observed confidence values
	Count   int     `json:"count"`   // Number of observations
	Average float64 `json:"average"` // Sum / Count, recomputed on every fold
}

// EmbeddingSample is a diagnostic snapshot of a recently classified event.
// Retained for export only; no aggregation invariant depends on it.
type EmbeddingSample struct {
	Domain      string    `json:"domain"`
	ContentType string    `json:"content_type"`
	Topic       string    `json:"topic"`
	Hash        string    `json:"hash"`
	Embedding   []float64 `json:"embedding"`
	Timestamp   time.Time `json:"timestamp"`
}

// DailyBucket aggregates all engagement for one local calendar day.
type DailyBucket struct {
	Day              string                    `json:"day"`               // Date key, DayFormat
	ByDomain         map[string]int64          `json:"by_domain"`         // domain -> accumulated ms
	ByContentType    map[string]int64          `json:"by_content_type"`   // content-type tag -> accumulated ms
	ByTopic          map[string]int64          `json:"by_topic"`          // topic label -> accumulated ms
	ByTopicCounts    map[string]int            `json:"by_topic_counts"`   // topic label -> unique posts seen
	TotalMs          int64                     `json:"total_ms"`          // Sum of all deltas ever applied
	SeenPosts        map[string]SeenPost       `json:"seen_posts"`        // content hash -> dedup ledger entry
	LRProbabilities  map[string]ConfidenceStat `json:"lr_probabilities"`  // topic -> running confidence stats
	EmbeddingSamples []EmbeddingSample         `json:"embedding_samples"` // Most recent diagnostic samples, oldest first
}

// NewDailyBucket creates an empty bucket for the given day key.
func NewDailyBucket(day string) *DailyBucket {
	return &DailyBucket{
		Day:             day,
		ByDomain:        make(map[string]int64),
		ByContentType:   make(map[string]int64),
		ByTopic:         make(map[string]int64),
		ByTopicCounts:   make(map[string]int),
		SeenPosts:       make(map[string]SeenPost),
		LRProbabilities: make(map[string]ConfidenceStat),
	}
}

// Classification is the result of running the topic classifier on one embedding.
type Classification struct {
	Label         string    `json:"label"`         // Selected topic label ("unknown" on degradation)
	Confidence    float64   `json:"confidence"`    // Probability of the selected label
	Probabilities []float64 `json:"probabilities"` // Per-class probabilities, nil on degradation
}

// BucketSummary is the read-only projection handed to recommendation backends.
type BucketSummary struct {
	Day                string             `json:"day"`                 // Day the summary covers
	TotalMs            int64              `json:"total_ms"`            // Total engagement for the day
	TopicTimes         map[string]int64   `json:"topic_times"`         // topic -> accumulated ms
	TopicCounts        map[string]int     `json:"topic_counts"`        // topic -> unique post count
	ConfidenceAverages map[string]float64 `json:"confidence_averages"` // topic -> average classifier confidence
	SamplePostTitle    string             `json:"sample_post_title"`   // One randomly sampled valid title
}

// RecommendationRecord is the persisted output of one summarization run.
type RecommendationRecord struct {
	ID          string       `json:"id"`           // Unique identifier for the record
	Text        string       `json:"text"`         // Generated recommendation text
	ForDay      string       `json:"for_day"`      // Day the summarized bucket covered
	GeneratedAt time.Time    `json:"generated_at"` // When generation completed
	Backend     string       `json:"backend"`      // Backend that produced the text
	Snapshot    *DailyBucket `json:"snapshot"`     // Frozen copy of the bucket at generation time
}
