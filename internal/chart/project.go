package chart

import (
	"fmt"

	"codeberg.org/mutker/powerdash/internal/history"
)

// Project returns the bucket sequence shown for window w. Unknown windows
// fall back to the week. The result is a copy; a nil dataset yields an
// empty slice.
func Project(w Window, ds *history.Dataset) []history.Bucket {
	if ds == nil {
		return []history.Bucket{}
	}

	var src []history.Bucket
	switch w {
	case WindowToday:
		src = ds.Today
	case WindowMonth:
		src = ds.Month
	default:
		src = ds.Week
	}

	out := make([]history.Bucket, len(src))
	copy(out, src)
	return out
}

// XKey names the bucket field used on the horizontal axis.
func XKey(w Window) string {
	if w.hourly() {
		return "hour"
	}
	return "date"
}

// FormatTick renders a bucket key as an axis or tooltip label.
func FormatTick(w Window, b history.Bucket) string {
	if w.hourly() {
		return fmt.Sprintf("%d:00", b.Hour)
	}
	return b.Date.Format("Jan 2")
}

// Tooltip describes one bucket with all three measures.
func Tooltip(w Window, b history.Bucket) string {
	return fmt.Sprintf("%s  Power %.0f W  Current %.0f mA  Voltage %.1f V",
		FormatTick(w, b), b.Power, b.Current, b.Voltage)
}
