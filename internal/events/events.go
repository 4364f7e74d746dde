package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a diagnostic record: a changed ANT+ page, a console reading, a
// malformed status line, a loop failure.
type Event struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	Topic    string    `json:"topic"`
	Payload  []byte    `json:"payload"`
	Time     time.Time `json:"time"`
}

type Buffer interface {
	Push(e Event)
	Pull(after time.Time, max int) []Event
	Len() int
}

type ring struct {
	mu   sync.RWMutex
	data []Event
	head int // индекс самого старого события, когда буфер заполнен
	size int
}

// NewRing keeps the last size events; older ones are overwritten.
func NewRing(size int) Buffer {
	if size <= 0 {
		size = 1
	}
	return &ring{data: make([]Event, 0, size), size: size}
}

func (r *ring) Push(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// под блокировкой, чтобы порядок в кольце совпадал с порядком времени
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if len(r.data) < r.size {
		r.data = append(r.data, e)
		return
	}
	r.data[r.head] = e
	r.head = (r.head + 1) % r.size
}

// Pull returns up to max events newer than after, in ring order. When more
// than max match, the most recently pushed max are returned. Events pushed
// with an explicit Time may sit out of time order; they are still found.
func (r *ring) Pull(after time.Time, max int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, max)
	n := len(r.data)
	for i := n - 1; i >= 0 && len(out) < max; i-- {
		e := r.data[(r.head+i)%n]
		if !e.Time.After(after) {
			continue
		}
		out = append(out, e)
	}
	for l, rgt := 0, len(out)-1; l < rgt; l, rgt = l+1, rgt-1 {
		out[l], out[rgt] = out[rgt], out[l]
	}
	return out
}

func (r *ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
