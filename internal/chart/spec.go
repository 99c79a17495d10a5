package chart

import (
	"fmt"

	"codeberg.org/mutker/powerdash/internal/history"
)

// AxisSide places a series on the left or right value axis.
type AxisSide string

const (
	AxisLeft  AxisSide = "left"
	AxisRight AxisSide = "right"
)

// Axis is a fixed value domain.
type Axis struct {
	Side   AxisSide `json:"side"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Suffix string   `json:"suffix,omitempty"`
}

var (
	LeftAxis  = Axis{Side: AxisLeft, Min: 0, Max: 5000}
	RightAxis = Axis{Side: AxisRight, Min: 200, Max: 260, Suffix: "V"}
)

// FormatAxisValue renders a value-axis tick.
func (a Axis) FormatAxisValue(v float64) string {
	return fmt.Sprintf("%.0f%s", v, a.Suffix)
}

// Stop is one point of a vertical fill gradient. Offset runs from 0 (top)
// to 1 (bottom).
type Stop struct {
	Offset  float64 `json:"offset"`
	Opacity float64 `json:"opacity"`
}

// FillGradient is applied to every series.
var FillGradient = []Stop{
	{Offset: 0.05, Opacity: 0.8},
	{Offset: 0.95, Opacity: 0.1},
}

// SeriesStyle describes how one measure is drawn.
type SeriesStyle struct {
	Key   string   `json:"key"`
	Name  string   `json:"name"`
	Color string   `json:"color"`
	Axis  AxisSide `json:"axis"`
	value func(history.Bucket) float64
}

// SeriesStyles in drawing order.
var SeriesStyles = []SeriesStyle{
	{Key: "power", Name: "Power (W)", Color: "#e6194B", Axis: AxisLeft, value: func(b history.Bucket) float64 { return b.Power }},
	{Key: "current", Name: "Current (mA)", Color: "#3cb44b", Axis: AxisLeft, value: func(b history.Bucket) float64 { return b.Current }},
	{Key: "voltage", Name: "Voltage (V)", Color: "#4363d8", Axis: AxisRight, value: func(b history.Bucket) float64 { return b.Voltage }},
}

// Value extracts the style's measure from b.
func (s SeriesStyle) Value(b history.Bucket) float64 {
	return s.value(b)
}

type Series struct {
	SeriesStyle
	Gradient []Stop    `json:"gradient"`
	Values   []float64 `json:"values"`
}

// Spec is a renderer-independent description of the composed chart.
type Spec struct {
	Window   Window   `json:"window"`
	XKey     string   `json:"x_key"`
	Labels   []string `json:"labels"`
	Tooltips []string `json:"tooltips"`
	Left     Axis     `json:"left_axis"`
	Right    Axis     `json:"right_axis"`
	Series   []Series `json:"series"`
}

// Compose builds the chart description for buckets shown under window w.
func Compose(w Window, buckets []history.Bucket) Spec {
	spec := Spec{
		Window:   w,
		XKey:     XKey(w),
		Labels:   make([]string, len(buckets)),
		Tooltips: make([]string, len(buckets)),
		Left:     LeftAxis,
		Right:    RightAxis,
		Series:   make([]Series, 0, len(SeriesStyles)),
	}

	for i, b := range buckets {
		spec.Labels[i] = FormatTick(w, b)
		spec.Tooltips[i] = Tooltip(w, b)
	}

	for _, style := range SeriesStyles {
		values := make([]float64, len(buckets))
		for i, b := range buckets {
			values[i] = style.Value(b)
		}
		spec.Series = append(spec.Series, Series{
			SeriesStyle: style,
			Gradient:    FillGradient,
			Values:      values,
		})
	}

	return spec
}
