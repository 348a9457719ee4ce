package embedcache

import (
	"errors"
	"fmt"
	"testing"
)

// fakeKV is an in-memory stand-in for the persistent key/value store.
type fakeKV struct {
	data    map[string]string
	failGet bool
	failSet bool
	sets    int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(keys ...string) (map[string]string, error) {
	if f.failGet {
		return nil, errors.New("kv get failed")
	}
	values := make(map[string]string)
	for _, key := range keys {
		if v, ok := f.data[key]; ok {
			values[key] = v
		}
	}
	return values, nil
}

func (f *fakeKV) Set(pairs map[string]string) error {
	if f.failSet {
		return errors.New("kv set failed")
	}
	f.sets++
	for k, v := range pairs {
		f.data[k] = v
	}
	return nil
}

func TestRememberAndGet(t *testing.T) {
	cache := New(newFakeKV())

	if _, ok := cache.Get("h1"); ok {
		t.Error("Expected miss on empty cache")
	}

	cache.Remember("h1", []float64{0.1, 0.2})
	vector, ok := cache.Get("h1")
	if !ok {
		t.Fatal("Expected hit after Remember")
	}
	if len(vector) != 2 || vector[0] != 0.1 {
		t.Errorf("Unexpected vector: %v", vector)
	}
}

func TestCapacityBound(t *testing.T) {
	cache := New(newFakeKV())

	for i := 0; i < Capacity+5; i++ {
		cache.Remember(fmt.Sprintf("h%d", i), []float64{float64(i)})
	}
	if cache.Len() != Capacity {
		t.Errorf("Expected cache to hold exactly %d entries, got %d", Capacity, cache.Len())
	}
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	cache := New(newFakeKV())

	for i := 0; i < Capacity; i++ {
		cache.Remember(fmt.Sprintf("h%d", i), []float64{float64(i)})
	}
	cache.Remember("h-new", []float64{99})

	if _, ok := cache.Get("h0"); ok {
		t.Error("Expected the oldest entry to be evicted after inserting a 21st hash")
	}
	if _, ok := cache.Get("h-new"); !ok {
		t.Error("Expected the newest entry to be retained")
	}
	if _, ok := cache.Get("h1"); !ok {
		t.Error("Expected the second-oldest entry to survive")
	}
}

func TestRememberRefreshesRecency(t *testing.T) {
	cache := New(newFakeKV())

	for i := 0; i < Capacity; i++ {
		cache.Remember(fmt.Sprintf("h%d", i), []float64{float64(i)})
	}

	// Re-remembering h0 moves it to the most-recent end instead of duplicating.
	cache.Remember("h0", []float64{42})
	if cache.Len() != Capacity {
		t.Fatalf("Expected %d entries after re-remember, got %d", Capacity, cache.Len())
	}

	cache.Remember("h-new", []float64{99})
	if _, ok := cache.Get("h0"); !ok {
		t.Error("Expected re-remembered entry to survive eviction")
	}
	if _, ok := cache.Get("h1"); ok {
		t.Error("Expected h1 to be evicted as the least recently touched")
	}
}

func TestGetDoesNotRefreshRecency(t *testing.T) {
	cache := New(newFakeKV())

	for i := 0; i < Capacity; i++ {
		cache.Remember(fmt.Sprintf("h%d", i), []float64{float64(i)})
	}

	cache.Get("h0")
	cache.Remember("h-new", []float64{99})

	if _, ok := cache.Get("h0"); ok {
		t.Error("Expected h0 to be evicted; lookups must not refresh recency")
	}
}

func TestPersistenceRoundtrip(t *testing.T) {
	kv := newFakeKV()

	cache := New(kv)
	cache.Remember("h1", []float64{0.5})
	cache.Remember("h2", []float64{0.6})
	if kv.sets != 2 {
		t.Errorf("Expected one persisted rewrite per mutation, got %d", kv.sets)
	}

	// A fresh cache over the same store reconstructs both entries.
	reloaded := New(kv)
	if vector, ok := reloaded.Get("h1"); !ok || vector[0] != 0.5 {
		t.Errorf("Expected h1 to survive reload, got %v (hit=%v)", vector, ok)
	}
	if _, ok := reloaded.Get("h2"); !ok {
		t.Error("Expected h2 to survive reload")
	}
}

func TestMalformedRecordStartsEmpty(t *testing.T) {
	kv := newFakeKV()
	kv.data["embedding_cache"] = "{not valid json"

	cache := New(kv)
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache on malformed record, got %d entries", cache.Len())
	}
}

func TestKVFailuresAreSoft(t *testing.T) {
	kv := newFakeKV()
	kv.failGet = true
	kv.failSet = true

	cache := New(kv)
	cache.Remember("h1", []float64{1})
	if vector, ok := cache.Get("h1"); !ok || vector[0] != 1 {
		t.Error("Expected in-memory state to survive persistence failures")
	}
}
