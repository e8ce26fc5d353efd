package translog

import "time"

// Default sizes of the bounded operations log.
const (
	DefaultHeadSize = 20
	DefaultTailSize = 100
)

// Entry is one line of the operations log.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Ring keeps the first entries it is given plus a capped window of the most
// recent ones. Entries between the two windows are counted and dropped.
type Ring struct {
	headSize int
	tailSize int

	head    []Entry
	tail    []Entry
	next    int
	dropped int
}

// NewRing creates a Ring. Non-positive sizes fall back to the defaults.
func NewRing(headSize, tailSize int) *Ring {
	if headSize <= 0 {
		headSize = DefaultHeadSize
	}
	if tailSize <= 0 {
		tailSize = DefaultTailSize
	}
	return &Ring{
		headSize: headSize,
		tailSize: tailSize,
		head:     make([]Entry, 0, headSize),
	}
}

// Add appends e, evicting the oldest tail entry once the tail is full.
func (r *Ring) Add(e Entry) {
	switch {
	case len(r.head) < r.headSize:
		r.head = append(r.head, e)
	case len(r.tail) < r.tailSize:
		r.tail = append(r.tail, e)
	default:
		r.tail[r.next] = e
		r.next = (r.next + 1) % r.tailSize
		r.dropped++
	}
}

// Entries returns the retained entries in insertion order.
func (r *Ring) Entries() []Entry {
	out := make([]Entry, 0, len(r.head)+len(r.tail))
	out = append(out, r.head...)
	out = append(out, r.tail[r.next:]...)
	out = append(out, r.tail[:r.next]...)
	return out
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	return len(r.head) + len(r.tail)
}

// Dropped returns how many entries were evicted.
func (r *Ring) Dropped() int {
	return r.dropped
}
