package telemetry_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	kind int
	data []byte
	err  error
}

// fakeConn replays frames, then blocks until closed.
type fakeConn struct {
	frames chan frame
	closed chan struct{}
	closes atomic.Int32
	once   sync.Once
}

func newFakeConn(frames ...frame) *fakeConn {
	c := &fakeConn{frames: make(chan frame, len(frames)), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return f.kind, f.data, f.err
	case <-c.closed:
		return 0, nil, io.ErrClosedPipe
	}
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) DialContext(ctx context.Context, _ string, _ http.Header) (telemetry.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dials >= len(d.conns) {
		d.dials++
		return nil, nil, fmt.Errorf("no more connections")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stateLog struct {
	mu      sync.Mutex
	states  []telemetry.ConnState
	dropped int
}

func (s *stateLog) StateChanged(state telemetry.ConnState, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *stateLog) SampleAccepted(telemetry.Sample) {}

func (s *stateLog) SampleDropped([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

func (s *stateLog) Reconnecting(int, time.Duration) {}

func (s *stateLog) has(state telemetry.ConnState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st == state {
			return true
		}
	}
	return false
}

func testConfig(url string) telemetry.ChannelConfig {
	return telemetry.ChannelConfig{
		URL:          url,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 40 * time.Millisecond,
	}
}

func text(s string) frame {
	return frame{kind: websocket.TextMessage, data: []byte(s)}
}

func runChannel(ctx context.Context, ch *telemetry.Channel) <-chan error {
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	return done
}

func TestTeardownClosesExactlyOnce(t *testing.T) {
	conn := newFakeConn(text(`{"time":"2025-03-01T10:00:00Z","current":1,"voltage":230,"power":2}`))
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	latest := telemetry.NewLatest()
	log := &stateLog{}

	ch := telemetry.NewChannel(testConfig("ws://meter"), latest,
		telemetry.WithDialer(dialer), telemetry.WithObserver(log))

	ctx, cancel := context.WithCancel(context.Background())
	done := runChannel(ctx, ch)

	require.Eventually(t, func() bool { return ch.State() == telemetry.StateOpen }, time.Second, time.Millisecond)
	<-latest.Ready()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, int32(1), conn.closes.Load(), "connection must be closed exactly once")
	assert.Equal(t, telemetry.StateClosed, ch.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestErrorPathClosesExactlyOnce(t *testing.T) {
	conn := newFakeConn(frame{err: io.ErrUnexpectedEOF})
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	log := &stateLog{}

	cfg := testConfig("ws://meter")
	cfg.ReconnectMin = time.Hour
	cfg.ReconnectMax = time.Hour
	ch := telemetry.NewChannel(cfg, telemetry.NewLatest(),
		telemetry.WithDialer(dialer), telemetry.WithObserver(log))

	ctx, cancel := context.WithCancel(context.Background())
	done := runChannel(ctx, ch)

	require.Eventually(t, func() bool { return log.has(telemetry.StateErrored) }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestDecodeFailureLeavesReadingUntouched(t *testing.T) {
	good := `{"time":"2025-03-01T10:00:00Z","current":1,"voltage":230,"power":2}`
	conn := newFakeConn(text(good), text(`{"time":`), frame{kind: websocket.BinaryMessage, data: []byte(good)})
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	log := &stateLog{}
	latest := telemetry.NewLatest()
	reading := telemetry.NewReading(hold, nil)
	defer reading.Stop()

	ch := telemetry.NewChannel(testConfig("ws://meter"), latest,
		telemetry.WithDialer(dialer), telemetry.WithObserver(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go telemetry.Pump(ctx, latest, reading)
	done := runChannel(ctx, ch)

	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.dropped == 2
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return reading.Snapshot().HasSample }, time.Second, time.Millisecond)
	before := reading.Snapshot()

	expected, err := telemetry.Decode([]byte(good))
	require.NoError(t, err)
	assert.Equal(t, expected.Power, before.Sample.Power)
	assert.Equal(t, telemetry.StateOpen, ch.State(), "decode failures do not affect the connection")

	cancel()
	<-done
}

func TestReconnectsWithBackoffAfterDialFailure(t *testing.T) {
	conn := newFakeConn(text(`{"time":"2025-03-01T10:00:00Z","current":1,"voltage":230,"power":7}`))
	dialer := &failingThenDialer{fail: 3, conn: conn}
	latest := telemetry.NewLatest()

	ch := telemetry.NewChannel(testConfig("ws://meter"), latest, telemetry.WithDialer(dialer))

	ctx, cancel := context.WithCancel(context.Background())
	done := runChannel(ctx, ch)

	select {
	case <-latest.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("no sample after reconnect")
	}
	s, ok := latest.Take()
	require.True(t, ok)
	assert.Equal(t, 7.0, s.Power)
	assert.Equal(t, int32(4), dialer.dials.Load())

	cancel()
	<-done
	assert.Equal(t, int32(1), conn.closes.Load())
}

type failingThenDialer struct {
	fail  int32
	dials atomic.Int32
	conn  *fakeConn
}

func (d *failingThenDialer) DialContext(context.Context, string, http.Header) (telemetry.Conn, *http.Response, error) {
	if n := d.dials.Add(1); n <= d.fail {
		return nil, nil, fmt.Errorf("refused %d", n)
	}
	return d.conn, nil, nil
}

// meterServer streams whatever is written to its feed channel to the
// currently connected client.
type meterServer struct {
	*httptest.Server
	feed    chan string
	drop    chan struct{}
	upgrade atomic.Int32
}

func newMeterServer(t *testing.T) *meterServer {
	t.Helper()

	m := &meterServer{feed: make(chan string), drop: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		m.upgrade.Add(1)

		for {
			select {
			case msg := <-m.feed:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-m.drop:
				return
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(m.Close)

	return m
}

func (m *meterServer) wsURL() string {
	return "ws" + strings.TrimPrefix(m.URL, "http")
}

func TestChannelOverWebsocket(t *testing.T) {
	srv := newMeterServer(t)
	latest := telemetry.NewLatest()
	reading := telemetry.NewReading(hold, nil)
	defer reading.Stop()

	ch := telemetry.NewChannel(testConfig(srv.wsURL()), latest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go telemetry.Pump(ctx, latest, reading)
	done := runChannel(ctx, ch)

	for i := 1; i <= 5; i++ {
		srv.feed <- fmt.Sprintf(`{"time":"2025-03-01T10:00:0%dZ","current":%d,"voltage":230,"power":%d}`, i, i*10, i)
	}
	srv.feed <- `not json`

	require.Eventually(t, func() bool {
		return reading.Snapshot().Sample.Power == 5
	}, time.Second, 5*time.Millisecond)

	// Drop the connection; the channel redials and keeps displaying new samples.
	srv.drop <- struct{}{}
	require.Eventually(t, func() bool { return srv.upgrade.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5.0, reading.Snapshot().Sample.Power, "stale reading stays displayed while reconnecting")

	srv.feed <- `{"time":"2025-03-01T10:01:00Z","current":90,"voltage":231,"power":9}`
	require.Eventually(t, func() bool {
		return reading.Snapshot().Sample.Power == 9
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
