package storage

import (
	"sync"
	"time"

	"github.com/afroash/temper-node/internal/models"
)

// Capacity is one sample every five minutes for 24 hours.
const Capacity = 288

// Ring is the fixed-capacity sample store. Slots are never removed or
// reordered; Append overwrites the slot under the cursor and advances it.
type Ring struct {
	slots  []models.Reading
	cursor int
	mutex  sync.RWMutex
	stats  RingStats
}

// RingStats tracks ring usage
type RingStats struct {
	TotalAppended int64     `json:"total_appended"`
	Overwritten   int64     `json:"overwritten"`
	LastAppend    time.Time `json:"last_append,omitempty"`
}

// NewRing creates a ring with capacity placeholder slots.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Ring{
		slots: make([]models.Reading, capacity),
	}
}

// Append writes r at the cursor. It always succeeds.
func (r *Ring) Append(reading models.Reading) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.slots[r.cursor].IsEmpty() {
		r.stats.Overwritten++
	}
	r.slots[r.cursor] = reading
	r.cursor = (r.cursor + 1) % len(r.slots)

	r.stats.TotalAppended++
	r.stats.LastAppend = time.Now()
}

// Snapshot returns a copy of every slot in slot order, not chronological order.
func (r *Ring) Snapshot() []models.Reading {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]models.Reading, len(r.slots))
	copy(out, r.slots)
	return out
}

// Latest returns the most recently appended reading, if any.
func (r *Ring) Latest() (models.Reading, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.stats.TotalAppended == 0 {
		return models.Reading{}, false
	}
	idx := (r.cursor - 1 + len(r.slots)) % len(r.slots)
	return r.slots[idx], true
}

// Cursor returns the index the next Append will write.
func (r *Ring) Cursor() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.cursor
}

// Stats returns a copy of current ring statistics
func (r *Ring) Stats() RingStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.stats
}
