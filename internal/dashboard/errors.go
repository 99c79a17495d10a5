package dashboard

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	ErrAlreadyStarted  = errors.ErrorCode("dashboard_already_started")
	ErrRefreshInFlight = errors.ErrorCode("dashboard_refresh_in_flight")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrAlreadyStarted:  "Dashboard already started",
		ErrRefreshInFlight: "A refresh is already in progress",
	})
}
