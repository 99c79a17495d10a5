package telemetry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	defaultReconnectMin     = time.Second
	defaultReconnectMax     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 4096
	closeWait               = time.Second
)

// Conn is the subset of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := w.d.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// NewWebsocketDialer returns a Dialer backed by gorilla/websocket.
func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	return wsDialer{d: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

type ChannelConfig struct {
	URL              string
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (c *ChannelConfig) applyDefaults() {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = max(defaultReconnectMax, c.ReconnectMin)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
}

type ChannelOption func(*Channel)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) ChannelOption {
	return func(c *Channel) {
		c.dialer = d
	}
}

// WithObserver registers an observer for channel events.
func WithObserver(o Observer) ChannelOption {
	return func(c *Channel) {
		c.observers = append(c.observers, o)
	}
}

// Channel owns the connection to the live telemetry source and publishes
// decoded samples into a Latest cell.
type Channel struct {
	cfg       ChannelConfig
	dialer    Dialer
	sink      *Latest
	observers Observers
	state     atomic.Int32
}

func NewChannel(cfg ChannelConfig, sink *Latest, opts ...ChannelOption) *Channel {
	cfg.applyDefaults()

	c := &Channel{
		cfg:  cfg,
		sink: sink,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	c.state.Store(int32(StateClosed))

	return c
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Channel) setState(s ConnState, err error) {
	c.state.Store(int32(s))
	c.observers.StateChanged(s, err)
}

// Run connects and reads until ctx is done, redialing with exponential
// backoff whenever the connection fails or drops. Each connection it opens
// is closed exactly once before Run returns.
func (c *Channel) Run(ctx context.Context) error {
	b := newBackoff(c.cfg.ReconnectMin, c.cfg.ReconnectMax)

	for {
		opened, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed, nil)
			return nil
		}
		if opened {
			b.Reset()
		}

		delay := b.Next()
		logger.Warn().
			Err(err).
			Int("attempt", b.Attempt()).
			Dur("delay", delay).
			Msg("Telemetry connection lost, reconnecting")
		c.observers.Reconnecting(b.Attempt(), delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.setState(StateClosed, nil)
			return nil
		case <-t.C:
		}
	}
}

func (c *Channel) session(ctx context.Context) (bool, error) {
	errFactory := errors.New()

	c.setState(StateConnecting, nil)
	logger.Debug().Str("url", c.cfg.URL).Msg("Connecting to telemetry source")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		werr := errFactory.Wrap(ErrDialFailed, err)
		c.setState(StateErrored, werr)
		return false, werr
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWait))
			if err := conn.Close(); err != nil {
				logger.Debug().Err(err).Msg("Failed to close telemetry connection")
			}
		})
	}
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	conn.SetReadLimit(c.cfg.ReadLimit)
	c.setState(StateOpen, nil)
	logger.Info().Str("url", c.cfg.URL).Msg("Telemetry connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				werr := errFactory.Wrap(ErrClosed, err)
				c.setState(StateClosed, werr)
				return true, werr
			}
			werr := errFactory.Wrap(ErrReadFailed, err)
			c.setState(StateErrored, werr)
			return true, werr
		}

		c.handle(msgType, data)
	}
}

func (c *Channel) handle(msgType int, data []byte) {
	if msgType != websocket.TextMessage {
		err := errors.New().WithData(ErrUnexpectedMessage, msgType)
		logger.Warn().Err(err).Msg("Dropping telemetry message")
		c.observers.SampleDropped(data, err)
		return
	}

	s, err := Decode(data)
	if err != nil {
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping telemetry message")
		c.observers.SampleDropped(data, err)
		return
	}

	c.sink.Put(s)
	c.observers.SampleAccepted(s)
}
