package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/diagnostics"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/observability"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDashboard struct {
	mu         sync.Mutex
	reading    telemetry.ReadingView
	view       dashboard.ViewState
	buckets    []history.Bucket
	refreshErr error
	refreshes  int
	refreshCtx error
	listeners  []func(dashboard.Change)
}

func (f *fakeDashboard) Reading() telemetry.ReadingView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading
}

func (f *fakeDashboard) ConnState() telemetry.ConnState { return telemetry.StateOpen }

func (f *fakeDashboard) View() dashboard.ViewState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeDashboard) SelectWindow(w chart.Window) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view.Window = w
}

func (f *fakeDashboard) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.refreshCtx = ctx.Err()
	return f.refreshErr
}

func (f *fakeDashboard) Series() []history.Bucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets
}

func (f *fakeDashboard) Chart() chart.Spec {
	return chart.Compose(f.View().Window, f.Series())
}

func (f *fakeDashboard) RenderChart(w io.Writer, format chart.Format) error {
	return chart.Render(w, format, f.Chart(), chart.Size{Width: 300, Height: 150})
}

func (f *fakeDashboard) OnChange(fn func(dashboard.Change)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeDashboard) emit(c dashboard.Change) {
	f.mu.Lock()
	listeners := f.listeners
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

type fakeEvents struct{}

func (fakeEvents) Recent(limit int) ([]diagnostics.Event, error) {
	return []diagnostics.Event{{Source: diagnostics.SourceTelemetry, Kind: diagnostics.KindState, Detail: "open"}}[:min(limit, 1)], nil
}

func (fakeEvents) Session() string { return "session-1" }

func newFake() *fakeDashboard {
	return &fakeDashboard{
		reading: telemetry.ReadingView{
			Sample:    telemetry.Sample{Time: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), Current: 512, Voltage: 230.2, Power: 117.8},
			HasSample: true,
		},
		view: dashboard.ViewState{Window: chart.WindowToday},
		buckets: []history.Bucket{
			{Kind: history.KeyHour, Hour: 8, Power: 60, Current: 260, Voltage: 230},
			{Kind: history.KeyHour, Hour: 9, Power: 75, Current: 330, Voltage: 231},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestReadingAndView(t *testing.T) {
	h := NewServer(newFake()).Handler()

	rec := do(t, h, http.MethodGet, "/api/reading")
	require.Equal(t, http.StatusOK, rec.Code)
	var reading map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.Equal(t, "open", reading["state"])
	assert.Equal(t, true, reading["has_sample"])

	rec = do(t, h, http.MethodGet, "/api/view")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"window":"today","loading":false,"refreshing":false,"updated_at":"0001-01-01T00:00:00Z"}`, rec.Body.String())
}

func TestSelectWindow(t *testing.T) {
	fake := newFake()
	h := NewServer(fake).Handler()

	rec := do(t, h, http.MethodPut, "/api/window/30d")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chart.WindowMonth, fake.View().Window)

	rec = do(t, h, http.MethodPut, "/api/window/1d")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chart.WindowToday, fake.View().Window)

	rec = do(t, h, http.MethodPut, "/api/window/1y")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(chart.ErrUnknownWindow))
	assert.Equal(t, 0, fake.refreshes, "selecting a window never fetches")
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"busy", errors.New().New(dashboard.ErrRefreshInFlight), http.StatusConflict},
		{"superseded", errors.New().New(history.ErrStale), http.StatusOK},
		{"upstream failure", errors.New().WithData(history.ErrBadStatus, "500 Internal Server Error"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			fake.refreshErr = tt.err
			rec := do(t, NewServer(fake).Handler(), http.MethodPost, "/api/refresh")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, 1, fake.refreshes)
		})
	}
}

func TestRefreshOutlivesAbortedClient(t *testing.T) {
	fake := newFake()
	h := NewServer(fake).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, 1, fake.refreshes)
	assert.NoError(t, fake.refreshCtx, "the dataset fetch must not inherit the caller's cancellation")
}

func TestSeriesAndChart(t *testing.T) {
	fake := newFake()
	h := NewServer(fake).Handler()

	rec := do(t, h, http.MethodGet, "/api/series")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec struct {
		XKey   string   `json:"x_key"`
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.Equal(t, "hour", spec.XKey)
	assert.Equal(t, []string{"8:00", "9:00"}, spec.Labels)

	rec = do(t, h, http.MethodGet, "/chart.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/chart.svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<svg")

	fake.mu.Lock()
	fake.buckets = nil
	fake.mu.Unlock()
	rec = do(t, h, http.MethodGet, "/chart.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndDiagnostics(t *testing.T) {
	h := NewServer(newFake()).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/diagnostics").Code)

	h = NewServer(newFake(),
		WithMetrics(observability.NewMetrics().Handler()),
		WithDiagnostics(fakeEvents{}),
	).Handler()

	rec := do(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "powerdash_samples_accepted_total")

	rec = do(t, h, http.MethodGet, "/api/diagnostics?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session":"session-1"`)
	assert.Contains(t, rec.Body.String(), `"kind":"state"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/diagnostics?limit=x").Code)
}

func TestLiveUpdates(t *testing.T) {
	fake := newFake()
	s := NewServer(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunHub(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	assert.JSONEq(t, `"reading"`, string(read()["type"]))
	assert.JSONEq(t, `"view"`, string(read()["type"]))

	// Registration races the first broadcast; keep emitting until one lands.
	fake.mu.Lock()
	fake.reading.Sample.Power = 250
	fake.mu.Unlock()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				fake.emit(dashboard.ChangeReading)
			}
		}
	}()

	msg := read()
	assert.JSONEq(t, `"reading"`, string(msg["type"]))
	assert.Contains(t, string(msg["payload"]), `"power":250`)
}
