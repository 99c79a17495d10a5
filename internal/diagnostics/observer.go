package diagnostics

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/telemetry"
)

// Observer journals channel and fetcher events. Sample values are never
// written; only decode failures and lifecycle changes are.
type Observer struct {
	journal Journal
	log     logger.Logger
}

var (
	_ telemetry.Observer = (*Observer)(nil)
	_ history.Observer   = (*Observer)(nil)
)

func NewObserver(j Journal, log logger.Logger) *Observer {
	return &Observer{journal: j, log: log}
}

func (o *Observer) record(e Event) {
	if err := o.journal.Record(context.Background(), &e); err != nil {
		o.log.Debug().Err(err).Str("kind", string(e.Kind)).Msg("Failed to journal diagnostics event")
	}
}

func (o *Observer) StateChanged(state telemetry.ConnState, err error) {
	detail := state.String()
	if err != nil {
		detail += ": " + err.Error()
	}
	o.record(Event{Source: SourceTelemetry, Kind: KindState, Detail: detail})
}

// SampleAccepted is not journaled.
func (o *Observer) SampleAccepted(telemetry.Sample) {}

func (o *Observer) SampleDropped(raw []byte, err error) {
	o.record(Event{
		Source: SourceTelemetry,
		Kind:   KindDecodeFailed,
		Detail: fmt.Sprintf("%d bytes: %v", len(raw), err),
	})
}

func (o *Observer) Reconnecting(attempt int, delay time.Duration) {
	o.record(Event{
		Source:   SourceTelemetry,
		Kind:     KindReconnect,
		Detail:   fmt.Sprintf("attempt %d", attempt),
		Duration: delay,
	})
}

func (o *Observer) FetchFinished(kind history.Kind, elapsed time.Duration, err error) {
	e := Event{Source: SourceHistory, Kind: KindFetchOK, Detail: string(kind), Duration: elapsed}
	if err != nil {
		e.Kind = KindFetchFailed
		e.Detail = fmt.Sprintf("%s: %v", kind, err)
	}
	o.record(e)
}

func (o *Observer) StaleDropped(kind history.Kind) {
	o.record(Event{Source: SourceHistory, Kind: KindStale, Detail: string(kind)})
}
