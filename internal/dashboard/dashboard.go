package dashboard

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/logger"
	"codeberg.org/mutker/powerdash/internal/telemetry"
)

// Change tells listeners which part of the dashboard changed.
type Change int

const (
	ChangeReading Change = iota
	ChangeView
)

// ViewState is the chart panel's status. Loading and Refreshing are never
// both set, and a non-empty Error clears both.
type ViewState struct {
	Window     chart.Window `json:"window"`
	Loading    bool         `json:"loading"`
	Refreshing bool         `json:"refreshing"`
	Error      string       `json:"error,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at,omitempty"`
}

type Config struct {
	Telemetry      telemetry.ChannelConfig
	Highlight      time.Duration
	HistoryURL     string
	HistoryTimeout time.Duration
	Window         chart.Window
	ChartSize      chart.Size
}

type Option func(*options)

type options struct {
	dialer       telemetry.Dialer
	client       *http.Client
	telObservers []telemetry.Observer
	histObserver []history.Observer
}

// WithDialer replaces the websocket dialer of the live channel.
func WithDialer(d telemetry.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

func WithTelemetryObserver(obs telemetry.Observer) Option {
	return func(o *options) {
		o.telObservers = append(o.telObservers, obs)
	}
}

func WithHistoryObserver(obs history.Observer) Option {
	return func(o *options) {
		o.histObserver = append(o.histObserver, obs)
	}
}

// Dashboard composes the live reading, the historical fetcher and the
// window selector. Each keeps its own state; the dashboard only reads them.
type Dashboard struct {
	channel  *telemetry.Channel
	latest   *telemetry.Latest
	reading  *telemetry.Reading
	fetcher  *history.Fetcher
	selector *chart.Selector
	size     chart.Size

	mu        sync.Mutex
	listeners []func(Change)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config, opts ...Option) *Dashboard {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	d := &Dashboard{
		latest: telemetry.NewLatest(),
		size:   cfg.ChartSize,
	}

	d.reading = telemetry.NewReading(cfg.Highlight, func(telemetry.ReadingView) {
		d.emit(ChangeReading)
	})

	chOpts := []telemetry.ChannelOption{}
	if o.dialer != nil {
		chOpts = append(chOpts, telemetry.WithDialer(o.dialer))
	}
	for _, obs := range o.telObservers {
		chOpts = append(chOpts, telemetry.WithObserver(obs))
	}
	d.channel = telemetry.NewChannel(cfg.Telemetry, d.latest, chOpts...)

	histOpts := []history.Option{
		history.WithTimeout(cfg.HistoryTimeout),
		history.WithOnChange(func(history.Status) { d.emit(ChangeView) }),
	}
	if o.client != nil {
		histOpts = append(histOpts, history.WithHTTPClient(o.client))
	}
	for _, obs := range o.histObserver {
		histOpts = append(histOpts, history.WithObserver(obs))
	}
	d.fetcher = history.NewFetcher(cfg.HistoryURL, histOpts...)

	d.selector = chart.NewSelector(cfg.Window, func(chart.Window) { d.emit(ChangeView) })

	return d
}

// OnChange registers a listener. Listeners run on the goroutine that made
// the change and must not block.
func (d *Dashboard) OnChange(fn func(Change)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Dashboard) emit(c Change) {
	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
}

// Start opens the live channel, starts applying samples and issues the
// initial dataset load. It returns immediately.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return errors.New().New(ErrAlreadyStarted)
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		if err := d.channel.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Telemetry channel stopped")
		}
	}()
	go func() {
		defer d.wg.Done()
		telemetry.Pump(ctx, d.latest, d.reading)
	}()
	go func() {
		defer d.wg.Done()
		// The error is already in the view state
		_ = d.fetcher.Load(ctx)
	}()

	logger.Debug().Str("window", string(d.selector.Window())).Msg("Dashboard started")
	return nil
}

// Close stops the background work and waits for it to finish. The
// connection is closed before Close returns.
func (d *Dashboard) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		d.wg.Wait()
		d.reading.Stop()
	})
}

// Reading returns the live reading.
func (d *Dashboard) Reading() telemetry.ReadingView {
	return d.reading.Snapshot()
}

// ConnState returns the live connection state.
func (d *Dashboard) ConnState() telemetry.ConnState {
	return d.channel.State()
}

func (d *Dashboard) View() ViewState {
	st := d.fetcher.Status()
	v := ViewState{
		Window:     d.selector.Window(),
		Loading:    st.Loading,
		Refreshing: st.Refreshing,
		Error:      st.Error,
		UpdatedAt:  st.UpdatedAt,
	}
	if v.Error != "" {
		v.Loading, v.Refreshing = false, false
	}
	return v
}

// SelectWindow switches the chart window without fetching.
func (d *Dashboard) SelectWindow(w chart.Window) {
	d.selector.Select(w)
}

// Refresh refetches the dataset. It is rejected while another refresh is
// in flight.
func (d *Dashboard) Refresh(ctx context.Context) error {
	err := d.fetcher.TryRefresh(ctx)
	if errors.CodeOf(err) == history.ErrInFlight {
		return errors.New().Wrap(ErrRefreshInFlight, err)
	}
	return err
}

// Series returns the buckets of the selected window.
func (d *Dashboard) Series() []history.Bucket {
	return chart.Project(d.selector.Window(), d.fetcher.Dataset())
}

// Chart describes the chart of the selected window.
func (d *Dashboard) Chart() chart.Spec {
	w := d.selector.Window()
	return chart.Compose(w, chart.Project(w, d.fetcher.Dataset()))
}

// RenderChart draws the selected window's chart.
func (d *Dashboard) RenderChart(w io.Writer, format chart.Format) error {
	return chart.Render(w, format, d.Chart(), d.size)
}
