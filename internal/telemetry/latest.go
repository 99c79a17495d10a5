package telemetry

import "sync"

// Latest is a single-slot cell holding the most recent sample. Put
// overwrites whatever the consumer has not taken yet, so a slow consumer
// sees fewer samples but always the newest one.
type Latest struct {
	mu     sync.Mutex
	sample Sample
	full   bool
	ready  chan struct{}
}

func NewLatest() *Latest {
	return &Latest{ready: make(chan struct{}, 1)}
}

// Put stores s and wakes the consumer. It never blocks.
func (l *Latest) Put(s Sample) {
	l.mu.Lock()
	l.sample = s
	l.full = true
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after at least one Put since the last Take.
func (l *Latest) Ready() <-chan struct{} {
	return l.ready
}

// Take empties the cell.
func (l *Latest) Take() (Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sample, l.full
	l.full = false
	return s, ok
}
