package telemetry

import (
	"bytes"
	"encoding/json"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
)

// Sample is one reading from the power meter. A new Sample replaces the
// previous one; samples are never merged.
type Sample struct {
	Time    time.Time `json:"time"`
	Current float64   `json:"current"` // mA
	Voltage float64   `json:"voltage"` // V
	Power   float64   `json:"power"`   // W
}

type wireSample struct {
	Time    json.RawMessage `json:"time"`
	Current *float64        `json:"current"`
	Voltage *float64        `json:"voltage"`
	Power   *float64        `json:"power"`
}

// Decode parses one inbound message. All four fields must be present;
// time may be an RFC 3339 string or epoch milliseconds.
func Decode(data []byte) (Sample, error) {
	errFactory := errors.New()

	var w wireSample
	if err := json.Unmarshal(data, &w); err != nil {
		return Sample{}, errFactory.Wrap(ErrMalformedSample, err)
	}

	switch {
	case len(w.Time) == 0 || bytes.Equal(w.Time, []byte("null")):
		return Sample{}, errFactory.WithData(ErrMissingField, "time")
	case w.Current == nil:
		return Sample{}, errFactory.WithData(ErrMissingField, "current")
	case w.Voltage == nil:
		return Sample{}, errFactory.WithData(ErrMissingField, "voltage")
	case w.Power == nil:
		return Sample{}, errFactory.WithData(ErrMissingField, "power")
	}

	ts, err := parseTime(w.Time)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Time:    ts,
		Current: *w.Current,
		Voltage: *w.Voltage,
		Power:   *w.Power,
	}, nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	errFactory := errors.New()

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errFactory.Wrap(ErrInvalidTime, err)
		}
		return ts, nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, errFactory.WithData(ErrInvalidTime, string(raw))
	}
	return time.UnixMilli(int64(ms)), nil
}
