// Package tracker keeps an in-memory ring of recent proxied requests with
// incrementally maintained aggregates. Nothing here touches disk; history
// dies with the daemon.
package tracker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quotio/quotiod/internal/models"
)

// DefaultCapacity bounds the ring when the config does not say otherwise.
const DefaultCapacity = 10000

// Stats is the aggregate view handed to stats.get.
type Stats struct {
	Total       models.RequestAggregate            `json:"total"`
	Success     int64                              `json:"success_count"`
	Failure     int64                              `json:"failure_count"`
	PerProvider map[string]models.RequestAggregate `json:"per_provider"`
	PerModel    map[string]models.RequestAggregate `json:"per_model"`
}

// Tracker is the fixed-capacity request log.
type Tracker struct {
	mu       sync.RWMutex
	entries  []models.RequestLogEntry // ring storage
	head     int                      // index of oldest entry
	size     int
	capacity int

	total       models.RequestAggregate
	success     int64
	failure     int64
	perProvider map[string]models.RequestAggregate
	perModel    map[string]models.RequestAggregate

	entropy *rand.Rand
	lastID  string
}

// New builds a tracker with the given capacity (DefaultCapacity when <= 0).
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		entries:     make([]models.RequestLogEntry, capacity),
		capacity:    capacity,
		perProvider: make(map[string]models.RequestAggregate),
		perModel:    make(map[string]models.RequestAggregate),
		entropy:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add records one request, assigning a ULID when the entry has no id.
// When the ring is full the oldest entry is evicted and its contribution
// removed from every aggregate before the new one is added.
func (t *Tracker) Add(entry models.RequestLogEntry) models.RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if t.size == t.capacity {
		evicted := t.entries[t.head]
		t.removeLocked(&evicted)
		t.head = (t.head + 1) % t.capacity
		t.size--
	}
	t.entries[(t.head+t.size)%t.capacity] = entry
	t.size++
	t.addLocked(&entry)
	t.lastID = entry.ID
	return entry
}

func (t *Tracker) addLocked(e *models.RequestLogEntry) {
	t.total.Add(e)
	if e.Succeeded() {
		t.success++
	} else {
		t.failure++
	}
	if e.Provider != "" {
		agg := t.perProvider[e.Provider]
		agg.Add(e)
		t.perProvider[e.Provider] = agg
	}
	if e.Model != "" {
		agg := t.perModel[e.Model]
		agg.Add(e)
		t.perModel[e.Model] = agg
	}
}

func (t *Tracker) removeLocked(e *models.RequestLogEntry) {
	t.total.Remove(e)
	if e.Succeeded() {
		t.success--
	} else {
		t.failure--
	}
	if e.Provider != "" {
		agg := t.perProvider[e.Provider]
		agg.Remove(e)
		if agg.Count == 0 {
			delete(t.perProvider, e.Provider)
		} else {
			t.perProvider[e.Provider] = agg
		}
	}
	if e.Model != "" {
		agg := t.perModel[e.Model]
		agg.Remove(e)
		if agg.Count == 0 {
			delete(t.perModel, e.Model)
		} else {
			t.perModel[e.Model] = agg
		}
	}
}

// ListOptions filters List output.
type ListOptions struct {
	Provider string
	Since    time.Time
	AfterID  string
}

// List returns matching entries oldest-first.
func (t *Tracker) List(opts ListOptions) []models.RequestLogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []models.RequestLogEntry
	passedAfter := opts.AfterID == ""
	for i := 0; i < t.size; i++ {
		entry := t.entries[(t.head+i)%t.capacity]
		if !passedAfter {
			if entry.ID == opts.AfterID {
				passedAfter = true
			}
			continue
		}
		if opts.Provider != "" && entry.Provider != opts.Provider {
			continue
		}
		if !opts.Since.IsZero() && entry.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Stats returns a copy of every aggregate.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	perProvider := make(map[string]models.RequestAggregate, len(t.perProvider))
	for k, v := range t.perProvider {
		perProvider[k] = v
	}
	perModel := make(map[string]models.RequestAggregate, len(t.perModel))
	for k, v := range t.perModel {
		perModel[k] = v
	}
	return Stats{
		Total:       t.total,
		Success:     t.success,
		Failure:     t.failure,
		PerProvider: perProvider,
		PerModel:    perModel,
	}
}

// Len reports how many entries the ring currently holds.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// LastID returns the id of the most recently added entry.
func (t *Tracker) LastID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastID
}

// Clear drops every entry and zeroes the aggregates.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head = 0
	t.size = 0
	t.total = models.RequestAggregate{}
	t.success = 0
	t.failure = 0
	t.perProvider = make(map[string]models.RequestAggregate)
	t.perModel = make(map[string]models.RequestAggregate)
	t.lastID = ""
}
