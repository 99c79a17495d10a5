package chart

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrUnknownWindow = errors.ErrorCode("chart_unknown_window")
	ErrUnknownFormat = errors.ErrorCode("chart_unknown_format")
	ErrNoData        = errors.ErrorCode("chart_no_data")
	ErrRender        = errors.ErrorCode("chart_render_failed")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrUnknownWindow: "Unknown chart window",
		ErrUnknownFormat: "Unknown chart format",
		ErrNoData:        "No data for the selected window",
		ErrRender:        "Failed to render chart",
	})
}
