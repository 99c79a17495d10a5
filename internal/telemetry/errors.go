package telemetry

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	// Decode Errors
	ErrMalformedSample   = errors.ErrorCode("telemetry_malformed_sample")
	ErrMissingField      = errors.ErrorCode("telemetry_missing_field")
	ErrInvalidTime       = errors.ErrorCode("telemetry_invalid_time")
	ErrUnexpectedMessage = errors.ErrorCode("telemetry_unexpected_message_type")

	// Connection Errors
	ErrDialFailed = errors.ErrorCode("telemetry_dial_failed")
	ErrReadFailed = errors.ErrorCode("telemetry_read_failed")
	ErrClosed     = errors.ErrorCode("telemetry_connection_closed")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrMalformedSample:   "Malformed telemetry sample",
		ErrMissingField:      "Telemetry sample is missing a field",
		ErrInvalidTime:       "Telemetry sample has an invalid time",
		ErrUnexpectedMessage: "Unexpected websocket message type",
		ErrDialFailed:        "Failed to connect to telemetry source",
		ErrReadFailed:        "Failed to read from telemetry source",
		ErrClosed:            "Telemetry source closed the connection",
	})
}
