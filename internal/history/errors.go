package history

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	// Request Errors
	ErrRequest   = errors.ErrorCode("history_request_failed")
	ErrBadStatus = errors.ErrorCode("history_bad_status")
	ErrRejected  = errors.ErrorCode("history_rejected")

	// Payload Errors
	ErrDecode      = errors.ErrorCode("history_decode_failed")
	ErrMissingData = errors.ErrorCode("history_missing_data")
	ErrInvalidKey  = errors.ErrorCode("history_invalid_bucket_key")
	ErrUnordered   = errors.ErrorCode("history_unordered_buckets")

	// Superseded by a newer request
	ErrStale = errors.ErrorCode("history_stale_response")

	ErrInFlight = errors.ErrorCode("history_refresh_in_flight")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrRequest:     "Dataset request failed",
		ErrBadStatus:   "Unexpected HTTP status",
		ErrRejected:    "Failed to fetch data",
		ErrDecode:      "Malformed dataset response",
		ErrMissingData: "Dataset response has no data",
		ErrInvalidKey:  "Invalid bucket key",
		ErrUnordered:   "Buckets are not in ascending order",
		ErrStale:       "Response superseded by a newer request",
		ErrInFlight:    "A refresh is already in progress",
	})
}
