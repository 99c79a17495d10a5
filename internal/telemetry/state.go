package telemetry

import "time"

// ConnState is the lifecycle state of the live connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Observer receives channel events for logging, metrics and diagnostics.
// Calls are made from the channel's reader goroutine and must not block.
type Observer interface {
	StateChanged(state ConnState, err error)
	SampleAccepted(s Sample)
	SampleDropped(raw []byte, err error)
	Reconnecting(attempt int, delay time.Duration)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StateChanged(state ConnState, err error) {
	for _, ob := range o {
		ob.StateChanged(state, err)
	}
}

func (o Observers) SampleAccepted(s Sample) {
	for _, ob := range o {
		ob.SampleAccepted(s)
	}
}

func (o Observers) SampleDropped(raw []byte, err error) {
	for _, ob := range o {
		ob.SampleDropped(raw, err)
	}
}

func (o Observers) Reconnecting(attempt int, delay time.Duration) {
	for _, ob := range o {
		ob.Reconnecting(attempt, delay)
	}
}
