package chart

import (
	"io"
	"strings"

	"codeberg.org/mutker/powerdash/internal/errors"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Format is an output image format.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

const (
	DefaultWidth  = 1024
	DefaultHeight = 400

	maxXTicks     = 12
	rightAxisStep = 10.0
	leftAxisStep  = 1000.0
)

// Size is the output image size in pixels.
type Size struct {
	Width  int
	Height int
}

// Render draws spec as a dual-axis chart. Power and current share the left
// axis, voltage uses the right one.
func Render(w io.Writer, format Format, spec Spec, size Size) error {
	errFactory := errors.New()

	var provider gochart.RendererProvider
	switch format {
	case FormatPNG:
		provider = gochart.PNG
	case FormatSVG:
		provider = gochart.SVG
	default:
		return errFactory.WithData(ErrUnknownFormat, string(format))
	}

	if len(spec.Labels) == 0 {
		return errFactory.WithData(ErrNoData, string(spec.Window))
	}

	if size.Width <= 0 {
		size.Width = DefaultWidth
	}
	if size.Height <= 0 {
		size.Height = DefaultHeight
	}

	n := len(spec.Labels)
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	// go-chart needs at least two X values.
	single := n == 1
	if single {
		xs = []float64{-0.25, 0.25}
	}

	series := make([]gochart.Series, 0, len(spec.Series))
	for _, s := range spec.Series {
		ys := s.Values
		if single && len(ys) == 1 {
			ys = []float64{ys[0], ys[0]}
		}
		series = append(series, gochart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			YAxis:   axisType(s.Axis),
			Style:   seriesStyle(s.Color, s.Gradient),
		})
	}

	ch := gochart.Chart{
		Width:      size.Width,
		Height:     size.Height,
		Background: gochart.Style{Padding: gochart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20}},
		XAxis: gochart.XAxis{
			Ticks: xTicks(spec.Labels),
			Range: &gochart.ContinuousRange{Min: -0.5, Max: float64(n) - 0.5},
		},
		// go-chart draws the primary axis on the right.
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: spec.Right.Min, Max: spec.Right.Max},
			Ticks: axisTicks(spec.Right, rightAxisStep),
		},
		YAxisSecondary: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: spec.Left.Min, Max: spec.Left.Max},
			Ticks: axisTicks(spec.Left, leftAxisStep),
		},
		Series: series,
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(provider, w); err != nil {
		return errFactory.Wrap(ErrRender, err)
	}
	return nil
}

func axisType(side AxisSide) gochart.YAxisType {
	if side == AxisRight {
		return gochart.YAxisPrimary
	}
	return gochart.YAxisSecondary
}

// seriesStyle approximates the vertical gradient with a flat fill at the
// gradient's mean opacity.
func seriesStyle(hex string, gradient []Stop) gochart.Style {
	color := drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))

	var opacity float64
	for _, s := range gradient {
		opacity += s.Opacity
	}
	if len(gradient) > 0 {
		opacity /= float64(len(gradient))
	}

	return gochart.Style{
		StrokeColor: color,
		StrokeWidth: 2,
		FillColor:   color.WithAlpha(uint8(opacity * 255)),
	}
}

func xTicks(labels []string) []gochart.Tick {
	step := 1
	if len(labels) > maxXTicks {
		step = (len(labels) + maxXTicks - 1) / maxXTicks
	}

	ticks := make([]gochart.Tick, 0, len(labels)/step+1)
	for i := 0; i < len(labels); i += step {
		ticks = append(ticks, gochart.Tick{Value: float64(i), Label: labels[i]})
	}
	return ticks
}

func axisTicks(a Axis, step float64) []gochart.Tick {
	var ticks []gochart.Tick
	for v := a.Min; v <= a.Max; v += step {
		ticks = append(ticks, gochart.Tick{Value: v, Label: a.FormatAxisValue(v)})
	}
	return ticks
}
