package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"horizon/internal/core"
	"horizon/internal/logger"
)

// UnknownLabel is returned whenever classification cannot produce a real topic.
const UnknownLabel = "unknown"

// weightsDoc mirrors the on-disk weights resource produced by the offline
// training tool: a logistic-regression weight matrix plus class labels.
type weightsDoc struct {
	Weights     [][]float64 `json:"weights"`
	Bias        []float64   `json:"bias"`
	Classes     []string    `json:"classes"`
	NumClasses  int         `json:"num_classes"`
	NumFeatures int         `json:"num_features"`
}

// Model holds an immutable, validated linear model.
type Model struct {
	weights     []float64 // row-major [numClasses x numFeatures]
	bias        []float64
	topics      []string
	numFeatures int
	numClasses  int
}

// Parse validates and flattens a weights document. Any structural mismatch
// fails the whole load; there is no partial model.
func Parse(data []byte) (*Model, error) {
	var doc weightsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse weights document: %w", err)
	}

	numClasses := doc.NumClasses
	if numClasses <= 0 {
		numClasses = len(doc.Classes)
	}
	if numClasses == 0 {
		return nil, fmt.Errorf("weights document declares no classes")
	}
	if len(doc.Classes) != numClasses {
		return nil, fmt.Errorf("classes length %d does not match num_classes %d", len(doc.Classes), numClasses)
	}
	if len(doc.Bias) != numClasses {
		return nil, fmt.Errorf("bias length %d does not match num_classes %d", len(doc.Bias), numClasses)
	}
	if len(doc.Weights) != numClasses {
		return nil, fmt.Errorf("weight matrix has %d rows, expected %d", len(doc.Weights), numClasses)
	}

	numFeatures := doc.NumFeatures
	if numFeatures <= 0 {
		numFeatures = len(doc.Weights[0])
	}
	if numFeatures == 0 {
		return nil, fmt.Errorf("weights document declares no features")
	}

	flat := make([]float64, 0, numClasses*numFeatures)
	for i, row := range doc.Weights {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("weight row %d has %d entries, expected %d", i, len(row), numFeatures)
		}
		flat = append(flat, row...)
	}

	topics := make([]string, numClasses)
	for i, label := range doc.Classes {
		topics[i] = strings.ToLower(strings.TrimSpace(label))
	}

	return &Model{
		weights:     flat,
		bias:        append([]float64(nil), doc.Bias...),
		topics:      topics,
		numFeatures: numFeatures,
		numClasses:  numClasses,
	}, nil
}

// NumFeatures returns the embedding dimensionality the model expects.
func (m *Model) NumFeatures() int { return m.numFeatures }

// Topics returns the ordered class labels.
func (m *Model) Topics() []string { return append([]string(nil), m.topics...) }

// Classify scores an embedding against every class and returns the argmax
// label with its softmax probability. A dimension mismatch degrades to
// UnknownLabel with zero confidence.
func (m *Model) Classify(embedding []float64) core.Classification {
	if len(embedding) != m.numFeatures {
		return core.Classification{Label: UnknownLabel, Confidence: 0}
	}

	logits := make([]float64, m.numClasses)
	for c := 0; c < m.numClasses; c++ {
		score := m.bias[c]
		row := m.weights[c*m.numFeatures : (c+1)*m.numFeatures]
		for d, v := range embedding {
			score += v * row[d]
		}
		logits[c] = score
	}

	probs := softmax(logits)

	// First occurrence wins on exact ties.
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}

	return core.Classification{
		Label:         m.topics[best],
		Confidence:    probs[best],
		Probabilities: probs,
	}
}

// softmax normalizes logits into probabilities, subtracting the max logit
// first so large scores cannot overflow the exponentials.
func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Classifier wraps a Model behind a lazy, memoized load so concurrent
// callers share a single load attempt. A failed load leaves the classifier
// permanently unloaded; every Classify call then degrades to UnknownLabel.
type Classifier struct {
	path string

	once  sync.Once
	model *Model
}

// New creates a classifier that will load its weights from path on first use.
func New(path string) *Classifier {
	return &Classifier{path: path}
}

// NewFromModel wraps an already-parsed model (used by tests and tooling).
func NewFromModel(m *Model) *Classifier {
	c := &Classifier{}
	c.once.Do(func() { c.model = m })
	return c
}

func (c *Classifier) ensureLoaded() {
	// All mutation happens inside the Do closure; afterwards c.model is
	// read-only, so concurrent callers need no further synchronization.
	// The load failure is logged once here and every later call degrades
	// silently.
	c.once.Do(func() {
		data, err := os.ReadFile(c.path)
		if err != nil {
			logger.Error("Classifier model unavailable", fmt.Errorf("failed to read weights file: %w", err), "path", c.path)
			return
		}
		model, err := Parse(data)
		if err != nil {
			logger.Error("Classifier model unavailable", err, "path", c.path)
			return
		}
		c.model = model
		logger.Info("Classifier model loaded", "path", c.path, "classes", model.numClasses, "features", model.numFeatures)
	})
}

// IsLoaded reports whether a valid model is available.
func (c *Classifier) IsLoaded() bool {
	c.ensureLoaded()
	return c.model != nil
}

// Classify runs the model on an embedding, degrading to UnknownLabel when
// the model is unloaded or the embedding has the wrong dimensionality.
// It never returns an error.
func (c *Classifier) Classify(embedding []float64) core.Classification {
	c.ensureLoaded()
	if c.model == nil {
		return core.Classification{Label: UnknownLabel, Confidence: 0}
	}
	return c.model.Classify(embedding)
}

// Topics returns the loaded model's class labels, or nil when unloaded.
func (c *Classifier) Topics() []string {
	c.ensureLoaded()
	if c.model == nil {
		return nil
	}
	return c.model.Topics()
}
