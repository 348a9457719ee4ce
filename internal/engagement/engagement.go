package engagement

import (
	"math/rand"
	"strings"
	"time"

	"horizon/internal/classifier"
	"horizon/internal/core"
	"horizon/internal/logger"
	"horizon/internal/store"
)

// DefaultLabel is used when an event carries no domain or content type.
const DefaultLabel = "unknown"

// minTitleLen: only titles longer than this many trimmed characters count
// as valid for topic attribution.
const minTitleLen = 5

// TitleValid reports whether a title is substantial enough to attribute
// topic time and dedup counts to.
func TitleValid(title string) bool {
	return len(strings.TrimSpace(title)) > minTitleLen
}

// Fold applies one engagement event to a bucket in the required order:
// domain/content-type time always accrues, topic time accrues for valid
// classified events, and the per-day dedup ledger gates unique-post counts
// and confidence statistics. TotalMs grows by DeltaMs unconditionally.
func Fold(bucket *core.DailyBucket, event core.EngagementEvent) {
	domain := strings.TrimSpace(event.Domain)
	if domain == "" {
		domain = DefaultLabel
	}
	contentType := strings.TrimSpace(event.ContentType)
	if contentType == "" {
		contentType = DefaultLabel
	}

	bucket.ByDomain[domain] += event.DeltaMs
	bucket.ByContentType[contentType] += event.DeltaMs

	topic := strings.ToLower(strings.TrimSpace(event.Topic))
	if TitleValid(event.Title) && topic != "" && topic != classifier.UnknownLabel {
		// Time accrues on every qualifying event; the ledger below only
		// gates counts and confidence.
		bucket.ByTopic[topic] += event.DeltaMs

		if event.ContentHash != "" {
			if _, seen := bucket.SeenPosts[event.ContentHash]; !seen {
				bucket.ByTopicCounts[topic]++

				firstSeen := event.Timestamp
				if firstSeen.IsZero() {
					firstSeen = time.Now().UTC()
				}
				var confidence float64
				if event.Confidence != nil {
					confidence = *event.Confidence
				}
				bucket.SeenPosts[event.ContentHash] = core.SeenPost{
					Topic:      topic,
					FirstSeen:  firstSeen,
					Title:      strings.TrimSpace(event.Title),
					Confidence: confidence,
				}

				if event.Confidence != nil {
					stat := bucket.LRProbabilities[topic]
					stat.Sum += *event.Confidence
					stat.Count++
					stat.Average = stat.Sum / float64(stat.Count)
					bucket.LRProbabilities[topic] = stat
				}
			}
		}
	}

	bucket.TotalMs += event.DeltaMs

	if len(event.Embedding) > 0 {
		timestamp := event.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now().UTC()
		}
		bucket.EmbeddingSamples = append(bucket.EmbeddingSamples, core.EmbeddingSample{
			Domain:      domain,
			ContentType: contentType,
			Topic:       topic,
			Hash:        event.ContentHash,
			Embedding:   event.Embedding,
			Timestamp:   timestamp,
		})
		if overflow := len(bucket.EmbeddingSamples) - core.MaxEmbeddingSamples; overflow > 0 {
			bucket.EmbeddingSamples = bucket.EmbeddingSamples[overflow:]
		}
	}
}

// Summarize projects a bucket into the read-only summary handed to
// recommendation backends, sampling one valid post title at random as
// representative context.
func Summarize(bucket *core.DailyBucket) core.BucketSummary {
	summary := core.BucketSummary{
		Day:                bucket.Day,
		TotalMs:            bucket.TotalMs,
		TopicTimes:         make(map[string]int64, len(bucket.ByTopic)),
		TopicCounts:        make(map[string]int, len(bucket.ByTopicCounts)),
		ConfidenceAverages: make(map[string]float64, len(bucket.LRProbabilities)),
	}
	for topic, ms := range bucket.ByTopic {
		summary.TopicTimes[topic] = ms
	}
	for topic, count := range bucket.ByTopicCounts {
		summary.TopicCounts[topic] = count
	}
	for topic, stat := range bucket.LRProbabilities {
		summary.ConfidenceAverages[topic] = stat.Average
	}

	var titles []string
	for _, post := range bucket.SeenPosts {
		if TitleValid(post.Title) {
			titles = append(titles, post.Title)
		}
	}
	if len(titles) > 0 {
		summary.SamplePostTitle = titles[rand.Intn(len(titles))]
	}

	return summary
}

// Store is the daily bucket store: read-modify-write aggregation keyed by
// local calendar date, persisted through the SQLite store.
type Store struct {
	db *store.Store
}

// NewStore creates a bucket store over the given persistence layer.
func NewStore(db *store.Store) *Store {
	return &Store{db: db}
}

// Apply folds one engagement event into the bucket for day, creating the
// bucket on first use, and writes the full record back. Persistence
// failures are logged and the in-memory result is still returned.
func (s *Store) Apply(day string, event core.EngagementEvent) *core.DailyBucket {
	bucket, err := s.db.GetBucket(day)
	if err != nil {
		logger.Error("Failed to read bucket, proceeding with a fresh one", err, "day", day)
	}
	if bucket == nil {
		bucket = core.NewDailyBucket(day)
	}

	Fold(bucket, event)

	if err := s.db.SaveBucket(bucket); err != nil {
		logger.Error("Failed to persist bucket", err, "day", day)
	}
	return bucket
}

// Get returns the bucket for a day, or nil when none exists.
func (s *Store) Get(day string) (*core.DailyBucket, error) {
	return s.db.GetBucket(day)
}
