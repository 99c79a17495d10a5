package history

import (
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
)

const dateLayout = "2006-01-02"

// KeyKind tells whether a bucket is keyed by hour of day or by date.
type KeyKind int

const (
	KeyHour KeyKind = iota
	KeyDate
)

// Bucket is one aggregated point of the historical dataset.
type Bucket struct {
	Kind    KeyKind
	Hour    int       // 0-23, set when Kind is KeyHour
	Date    time.Time // calendar date, set when Kind is KeyDate
	Power   float64
	Current float64
	Voltage float64
}

type wireBucket struct {
	Hour    *int     `json:"hour,omitempty"`
	Date    *string  `json:"date,omitempty"`
	Power   *float64 `json:"power"`
	Current *float64 `json:"current"`
	Voltage *float64 `json:"voltage"`
}

func (b *Bucket) UnmarshalJSON(data []byte) error {
	errFactory := errors.New()

	var w wireBucket
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.Power == nil:
		return errFactory.WithData(ErrDecode, "bucket without power")
	case w.Current == nil:
		return errFactory.WithData(ErrDecode, "bucket without current")
	case w.Voltage == nil:
		return errFactory.WithData(ErrDecode, "bucket without voltage")
	}

	out := Bucket{Power: *w.Power, Current: *w.Current, Voltage: *w.Voltage}
	switch {
	case w.Hour != nil && w.Date == nil:
		out.Kind = KeyHour
		out.Hour = *w.Hour
	case w.Date != nil && w.Hour == nil:
		d, err := parseDate(*w.Date)
		if err != nil {
			return errFactory.Wrap(ErrInvalidKey, err)
		}
		out.Kind = KeyDate
		out.Date = d
	default:
		return errFactory.WithData(ErrInvalidKey, "bucket needs exactly one of hour or date")
	}

	*b = out
	return nil
}

func (b Bucket) MarshalJSON() ([]byte, error) {
	w := wireBucket{Power: &b.Power, Current: &b.Current, Voltage: &b.Voltage}
	if b.Kind == KeyHour {
		w.Hour = &b.Hour
	} else {
		d := b.Date.Format(dateLayout)
		w.Date = &d
	}
	return json.Marshal(w)
}

func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
}

// Dataset is the three-window aggregate returned by one fetch. It is
// replaced as a whole and never modified in place.
type Dataset struct {
	Today []Bucket `json:"today"`
	Week  []Bucket `json:"week"`
	Month []Bucket `json:"month"`
}

// Validate checks the bucket invariants: today is keyed by hour 0-23,
// week and month by date, and every sequence is strictly ascending.
func (d *Dataset) Validate() error {
	if err := validateHours(d.Today); err != nil {
		return err
	}
	if err := validateDates("week", d.Week); err != nil {
		return err
	}
	return validateDates("month", d.Month)
}

func validateHours(buckets []Bucket) error {
	errFactory := errors.New()

	prev := -1
	for i, b := range buckets {
		if b.Kind != KeyHour || b.Hour < 0 || b.Hour > 23 {
			return errFactory.WithData(ErrInvalidKey, fmt.Sprintf("today[%d]", i))
		}
		if b.Hour <= prev {
			return errFactory.WithData(ErrUnordered, fmt.Sprintf("today[%d]", i))
		}
		prev = b.Hour
	}
	return nil
}

func validateDates(window string, buckets []Bucket) error {
	errFactory := errors.New()

	var prev time.Time
	for i, b := range buckets {
		if b.Kind != KeyDate {
			return errFactory.WithData(ErrInvalidKey, fmt.Sprintf("%s[%d]", window, i))
		}
		if i > 0 && !b.Date.After(prev) {
			return errFactory.WithData(ErrUnordered, fmt.Sprintf("%s[%d]", window, i))
		}
		prev = b.Date
	}
	return nil
}
