package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
	TTL     string  `json:"ttl"`
}

// Manager caches query payloads per (normalized query, record). Entries are
// stored as serialized bytes so a hit returns exactly what was put.
type Manager struct {
	store  *gocache.Cache
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func NewManager(ttl, cleanup time.Duration) *Manager {
	return &Manager{
		store: gocache.New(ttl, cleanup),
		ttl:   ttl,
	}
}

// NormalizeQuery lowercases and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Key is recordID + ":" + sha256(normalized query).
func Key(query, recordID string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query)))
	return recordID + ":" + hex.EncodeToString(sum[:])
}

// Get decodes a cached payload into out and reports whether one was found.
func (m *Manager) Get(query, recordID string, out interface{}) bool {
	raw, ok := m.store.Get(Key(query, recordID))
	if !ok {
		m.misses.Add(1)
		return false
	}
	data, ok := raw.([]byte)
	if !ok || json.Unmarshal(data, out) != nil {
		m.store.Delete(Key(query, recordID))
		m.misses.Add(1)
		return false
	}
	m.hits.Add(1)
	return true
}

// Put stores payload with ttl, or the default TTL when ttl is zero.
func (m *Manager) Put(query, recordID string, payload interface{}, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(Key(query, recordID), data, ttl)
	return nil
}

// InvalidateRecord removes every entry of a record and returns how many.
func (m *Manager) InvalidateRecord(recordID string) int {
	prefix := recordID + ":"
	removed := 0
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
			removed++
		}
	}
	return removed
}

func (m *Manager) Stats() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		Size:    m.store.ItemCount(),
		TTL:     m.ttl.String(),
	}
}
