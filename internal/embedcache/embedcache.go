package embedcache

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"horizon/internal/logger"
)

const (
	// Capacity bounds the number of cached embeddings.
	Capacity = 20
	// FormatVersion is bumped whenever the persisted representation changes.
	FormatVersion = 1

	storageKey = "embedding_cache"
)

// KV is the slice of the persistent key/value contract the cache consumes.
type KV interface {
	Get(keys ...string) (map[string]string, error)
	Set(pairs map[string]string) error
}

type persistedEntry struct {
	Hash   string    `json:"hash"`
	Vector []float64 `json:"vector"`
}

type persistedCache struct {
	Version int              `json:"version"`
	Entries []persistedEntry `json:"entries"` // oldest first
}

// Cache is a content-addressed store mapping content hashes to previously
// computed embeddings. Lookups do not refresh recency; re-remembering an
// existing hash moves it to the most-recent end. The whole cache is
// rewritten to the key/value store on every mutation.
type Cache struct {
	kv     KV
	lru    *lru.Cache[string, []float64]
	loaded bool
}

// New creates a cache persisted through kv. The persisted representation is
// loaded lazily on first use.
func New(kv KV) *Cache {
	inner, _ := lru.New[string, []float64](Capacity)
	return &Cache{kv: kv, lru: inner}
}

// Get returns the cached embedding for a hash, if present.
func (c *Cache) Get(hash string) ([]float64, bool) {
	c.ensureLoaded()
	// Peek keeps eviction order keyed to insert/remember, not lookups.
	return c.lru.Peek(hash)
}

// Remember stores an embedding under its content hash, evicting the entry
// least recently inserted or touched once capacity is exceeded, and
// rewrites the persisted representation.
func (c *Cache) Remember(hash string, vector []float64) {
	c.ensureLoaded()
	c.lru.Add(hash, vector)
	c.persist()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.ensureLoaded()
	return c.lru.Len()
}

func (c *Cache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true

	values, err := c.kv.Get(storageKey)
	if err != nil {
		logger.Error("Failed to load embedding cache, starting empty", err)
		return
	}
	raw, ok := values[storageKey]
	if !ok {
		return
	}

	var persisted persistedCache
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		logger.Warn("Malformed embedding cache record, starting empty", "error", err.Error())
		return
	}
	if persisted.Version != FormatVersion {
		logger.Warn("Unsupported embedding cache version, starting empty", "version", persisted.Version)
		return
	}

	for _, entry := range persisted.Entries {
		c.lru.Add(entry.Hash, entry.Vector)
	}
}

func (c *Cache) persist() {
	persisted := persistedCache{Version: FormatVersion}
	for _, hash := range c.lru.Keys() { // oldest first
		if vector, ok := c.lru.Peek(hash); ok {
			persisted.Entries = append(persisted.Entries, persistedEntry{Hash: hash, Vector: vector})
		}
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		logger.Error("Failed to encode embedding cache", err)
		return
	}
	if err := c.kv.Set(map[string]string{storageKey: string(data)}); err != nil {
		// In-memory state stays ahead of the store until the next write lands.
		logger.Error("Failed to persist embedding cache", err)
	}
}
