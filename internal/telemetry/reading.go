package telemetry

import (
	"sync"
	"time"
)

// DefaultHighlight is how long an accepted sample stays highlighted.
const DefaultHighlight = 150 * time.Millisecond

// ReadingView is what the presentation layer shows for the live reading.
type ReadingView struct {
	Sample    Sample `json:"sample"`
	HasSample bool   `json:"has_sample"`
	Highlight bool   `json:"highlight"`
}

// Reading holds the current display state of the live channel. Apply is
// its only writer.
type Reading struct {
	mu       sync.Mutex
	view     ReadingView
	hold     time.Duration
	timer    *time.Timer
	gen      uint64
	onChange func(ReadingView)
}

func NewReading(hold time.Duration, onChange func(ReadingView)) *Reading {
	if hold <= 0 {
		hold = DefaultHighlight
	}
	return &Reading{hold: hold, onChange: onChange}
}

// Apply replaces the displayed sample and (re)starts the highlight. A
// sample arriving while highlighted extends the interval rather than
// starting a second one.
func (r *Reading) Apply(s Sample) {
	r.mu.Lock()
	r.view = ReadingView{Sample: s, HasSample: true, Highlight: true}
	r.gen++
	gen := r.gen
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.hold, func() { r.expire(gen) })
	view := r.view
	r.mu.Unlock()

	r.notify(view)
}

func (r *Reading) expire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || !r.view.Highlight {
		r.mu.Unlock()
		return
	}
	r.view.Highlight = false
	view := r.view
	r.mu.Unlock()

	r.notify(view)
}

func (r *Reading) notify(view ReadingView) {
	if r.onChange != nil {
		r.onChange(view)
	}
}

// Snapshot returns the current view.
func (r *Reading) Snapshot() ReadingView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Stop cancels a pending highlight timer. The last sample stays visible.
func (r *Reading) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}
