package pipeline

import (
	"context"
	"time"

	"horizon/internal/classifier"
	"horizon/internal/core"
	"horizon/internal/embed"
	"horizon/internal/embedcache"
	"horizon/internal/engagement"
	"horizon/internal/logger"
	"horizon/internal/scheduler"
	"horizon/internal/store"
)

// Engine is the public surface of the aggregation and classification core.
// No method propagates an error to callers: failures degrade to "unknown"
// classification or an unchanged read view, which the UI treats as normal
// displayable states.
type Engine struct {
	db         *store.Store
	buckets    *engagement.Store
	cache      *embedcache.Cache
	provider   embed.Provider
	classifier *classifier.Classifier
	sched      *scheduler.Scheduler
	nowFunc    func() time.Time
}

// New wires the engine together. provider may be nil, which disables
// classification entirely (events still aggregate by time and domain).
func New(db *store.Store, provider embed.Provider, cls *classifier.Classifier, sched *scheduler.Scheduler) *Engine {
	return &Engine{
		db:         db,
		buckets:    engagement.NewStore(db),
		cache:      embedcache.New(db),
		provider:   provider,
		classifier: cls,
		sched:      sched,
		nowFunc:    time.Now,
	}
}

// RecordEngagement folds one event into today's bucket and returns the
// updated bucket. Non-positive deltas are filtered at this boundary. When
// the event carries no topic and its title is substantial, classification
// runs first (cache -> provider -> classifier) and the result folds into
// the same update; classification failure still records the time.
func (e *Engine) RecordEngagement(ctx context.Context, event core.EngagementEvent) *core.DailyBucket {
	day := e.nowFunc().Format(core.DayFormat)

	if event.DeltaMs <= 0 {
		logger.Debug("Ignoring non-positive engagement delta", "delta_ms", event.DeltaMs)
		return e.GetSummary(day)
	}

	if event.Topic == "" && engagement.TitleValid(event.Title) && e.provider != nil {
		result, vector := e.classify(ctx, event.Title)
		event.Topic = result.Label
		if event.ContentHash == "" {
			event.ContentHash = embed.ContentHash(event.Title)
		}
		if result.Label != classifier.UnknownLabel {
			confidence := result.Confidence
			event.Confidence = &confidence
			event.Embedding = vector
		}
	}

	return e.buckets.Apply(day, event)
}

// Classify classifies a text snippet into a topic, chaining the embedding
// cache, the embedding provider, and the linear classifier. Any failure
// along the chain degrades to the unknown label with zero confidence.
func (e *Engine) Classify(ctx context.Context, text string) core.Classification {
	result, _ := e.classify(ctx, text)
	return result
}

func (e *Engine) classify(ctx context.Context, text string) (core.Classification, []float64) {
	unknown := core.Classification{Label: classifier.UnknownLabel}

	normalized := embed.NormalizeText(text)
	if normalized == "" {
		return unknown, nil
	}

	hash := embed.ContentHash(normalized)
	vector, ok := e.cache.Get(hash)
	if !ok {
		if e.provider == nil {
			return unknown, nil
		}
		var err error
		vector, err = e.provider.Embed(ctx, normalized)
		if err != nil || len(vector) == 0 {
			logger.Warn("Embedding generation failed", "error", embedErr(err))
			return unknown, nil
		}
		e.cache.Remember(hash, vector)
	}

	return e.classifier.Classify(vector), vector
}

func embedErr(err error) string {
	if err == nil {
		return "empty embedding"
	}
	return err.Error()
}

// GetSummary returns the bucket read view for a day; an empty bucket is
// returned for days with no recorded engagement.
func (e *Engine) GetSummary(day string) *core.DailyBucket {
	bucket, err := e.buckets.Get(day)
	if err != nil {
		logger.Error("Failed to read bucket", err, "day", day)
	}
	if bucket == nil {
		return core.NewDailyBucket(day)
	}
	return bucket
}

// GetTodaySummary returns the read view for the current local day.
func (e *Engine) GetTodaySummary() *core.DailyBucket {
	return e.GetSummary(e.nowFunc().Format(core.DayFormat))
}

// GetPreviousDaySummary returns the current recommendation snapshot, or nil
// when no recommendation has been generated yet.
func (e *Engine) GetPreviousDaySummary() *core.RecommendationRecord {
	rec, err := e.db.GetCurrentRecommendation()
	if err != nil {
		logger.Error("Failed to read current recommendation", err)
		return nil
	}
	return rec
}

// CheckAndMaybeGenerateRecommendations runs one scheduler check plus
// retention cleanup. Idempotent and safe to call repeatedly. A nil scheduler
// means no backend is configured and the call is a no-op.
func (e *Engine) CheckAndMaybeGenerateRecommendations(ctx context.Context) {
	if e.sched == nil {
		return
	}
	e.sched.Check(ctx)
	e.sched.Cleanup(ctx)
}
