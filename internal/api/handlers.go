package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/diagnostics"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

const defaultEventLimit = 100

type readingResponse struct {
	telemetry.ReadingView
	State string `json:"state"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Code: string(errors.CodeOf(err)), Error: err.Error()})
}

func (s *Server) handleReading(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, readingResponse{
		ReadingView: s.dash.Reading(),
		State:       s.dash.ConnState().String(),
	})
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.View())
}

func (s *Server) handleSelectWindow(w http.ResponseWriter, r *http.Request) {
	win, err := chart.ParseWindow(chi.URLParam(r, "window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.dash.SelectWindow(win)
	writeJSON(w, http.StatusOK, s.dash.View())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The fetch outlives the caller: a dropped client must not wipe the
	// dataset every other viewer sees.
	err := s.dash.Refresh(context.WithoutCancel(r.Context()))
	switch errors.CodeOf(err) {
	case dashboard.ErrRefreshInFlight:
		writeError(w, http.StatusConflict, err)
		return
	case history.ErrStale:
		// A newer request owns the view
	default:
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.dash.View())
}

func (s *Server) handleSeries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.Chart())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, errors.New().WithMessage(errors.ErrUnavailable, "diagnostics journal is not configured"))
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New().WithData(errors.ErrInvalidArgument, raw))
			return
		}
		limit = n
	}

	events, err := s.events.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []diagnostics.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": s.events.Session(),
		"events":  events,
	})
}

func (s *Server) handleChart(format chart.Format) http.HandlerFunc {
	contentType := "image/png"
	if format == chart.FormatSVG {
		contentType = "image/svg+xml"
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		if err := s.dash.RenderChart(&buf, format); err != nil {
			status := http.StatusInternalServerError
			if errors.CodeOf(err) == chart.ErrNoData {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("Live upgrade failed")
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}

	// Initial state so clients need not poll
	if msg, err := encodeMessage("reading", s.dash.Reading()); err == nil {
		c.send <- msg
	}
	if msg, err := encodeMessage("view", s.dash.View()); err == nil {
		c.send <- msg
	}

	select {
	case s.hub.register <- c:
	case <-s.hubDone:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(s.hubDone)
}
