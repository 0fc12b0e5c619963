package transport

import (
	"fmt"
	"sync"
	"time"
)

// lineQueue is a bounded FIFO between a network goroutine and the session.
// A queue holding lines that nobody has taken for longer than the stall
// timeout reports itself unhealthy.
type lineQueue struct {
	name     string
	capacity int
	stall    time.Duration
	now      func() time.Time

	mu        sync.Mutex
	items     []string
	puts      int
	takes     int
	overflows int
	lastTake  time.Time
	ready     chan struct{}
}

func newLineQueue(name string, capacity int, stall time.Duration) *lineQueue {
	return &lineQueue{
		name:     name,
		capacity: capacity,
		stall:    stall,
		now:      time.Now,
		ready:    make(chan struct{}, 1),
	}
}

// put appends line and reports false when the queue was full.
func (q *lineQueue) put(line string) bool {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.overflows++
		q.mu.Unlock()
		return false
	}
	if len(q.items) == 0 {
		// the stall clock starts when the queue becomes non-empty
		q.lastTake = q.now()
	}
	q.items = append(q.items, line)
	q.puts++
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *lineQueue) peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	return q.items[0], true
}

func (q *lineQueue) take() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	line := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	q.takes++
	q.lastTake = q.now()
	return line, true
}

// signal wakes one waiter without blocking.
func (q *lineQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lineQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *lineQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *lineQueue) healthCheck() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.stall <= 0 {
		return true
	}
	return q.now().Sub(q.lastTake) < q.stall
}

func (q *lineQueue) stateSummary() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := fmt.Sprintf("%s:%d/%d", q.name, len(q.items), q.puts)
	if q.overflows > 0 {
		s += fmt.Sprintf(" lost=%d", q.overflows)
	}
	return s
}
