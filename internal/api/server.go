package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/diagnostics"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Dashboard is the presentation boundary served over HTTP.
type Dashboard interface {
	Reading() telemetry.ReadingView
	ConnState() telemetry.ConnState
	View() dashboard.ViewState
	SelectWindow(w chart.Window)
	Refresh(ctx context.Context) error
	Series() []history.Bucket
	Chart() chart.Spec
	RenderChart(w io.Writer, format chart.Format) error
	OnChange(fn func(dashboard.Change))
}

// EventSource lists recent diagnostics events.
type EventSource interface {
	Recent(limit int) ([]diagnostics.Event, error)
	Session() string
}

type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithDiagnostics exposes the journal at /api/diagnostics.
func WithDiagnostics(src EventSource) Option {
	return func(s *Server) {
		s.events = src
	}
}

// Server is the headless HTTP surface of the dashboard.
type Server struct {
	dash     Dashboard
	hub      *Hub
	metrics  http.Handler
	events   EventSource
	upgrader websocket.Upgrader
	hubDone  chan struct{}
}

func NewServer(d Dashboard, opts ...Option) *Server {
	s := &Server{
		dash:    d,
		hub:     NewHub(),
		hubDone: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	d.OnChange(func(c dashboard.Change) {
		switch c {
		case dashboard.ChangeReading:
			s.hub.Publish("reading", s.dash.Reading())
		case dashboard.ChangeView:
			s.hub.Publish("view", s.dash.View())
		}
	})

	return s
}

// Handler returns the router. The /ws route needs RunHub (or Serve) to be
// running.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/reading", s.handleReading)
		r.Get("/view", s.handleView)
		r.Put("/window/{window}", s.handleSelectWindow)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/series", s.handleSeries)
		r.Get("/diagnostics", s.handleDiagnostics)
	})
	r.Get("/chart.png", s.handleChart(chart.FormatPNG))
	r.Get("/chart.svg", s.handleChart(chart.FormatSVG))
	r.Get("/ws", s.handleLive)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	return r
}

// RunHub pushes live updates to websocket clients until ctx is done.
func (s *Server) RunHub(ctx context.Context) {
	defer close(s.hubDone)
	s.hub.Run(ctx)
}

// Serve runs the live hub and serves HTTP on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errFactory := errors.New()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.RunHub(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Serving dashboard API")
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errFactory.Wrap(errors.ErrServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	logger.Debug().Msg("Dashboard API stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New().Wrap(errors.ErrServe, err)
	}
	return s.Serve(ctx, ln)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
