package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
)

const maxBodyBytes = 8 << 20

// Kind distinguishes the initial load from a user-triggered refresh.
type Kind string

const (
	KindLoad    Kind = "load"
	KindRefresh Kind = "refresh"
)

// Status is the observable state of the fetcher.
type Status struct {
	Loading    bool      `json:"loading"`
	Refreshing bool      `json:"refreshing"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Observer is notified about each completed request.
type Observer interface {
	FetchFinished(kind Kind, elapsed time.Duration, err error)
	StaleDropped(kind Kind)
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout bounds each request. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

func WithObserver(o Observer) Option {
	return func(f *Fetcher) {
		f.observers = append(f.observers, o)
	}
}

// WithOnChange registers a callback invoked after every status change.
func WithOnChange(fn func(Status)) Option {
	return func(f *Fetcher) {
		f.onChange = fn
	}
}

// Fetcher retrieves the historical dataset and owns it. Load and Refresh
// are its only writers.
type Fetcher struct {
	url       string
	client    *http.Client
	timeout   time.Duration
	observers []Observer
	onChange  func(Status)

	mu       sync.Mutex
	gen      uint64
	inflight map[Kind]int
	dataset  *Dataset
	err      string
	updated  time.Time
}

func NewFetcher(url string, opts ...Option) *Fetcher {
	f := &Fetcher{
		url:      url,
		client:   http.DefaultClient,
		inflight: make(map[Kind]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load fetches the dataset with the loading flag raised.
func (f *Fetcher) Load(ctx context.Context) error {
	return f.fetch(ctx, KindLoad)
}

// Refresh fetches the dataset with the refreshing flag raised.
func (f *Fetcher) Refresh(ctx context.Context) error {
	return f.fetch(ctx, KindRefresh)
}

// TryRefresh is Refresh, except that it fails with ErrInFlight instead of
// starting a second refresh while one is visibly running. The check and the
// start happen under one lock.
func (f *Fetcher) TryRefresh(ctx context.Context) error {
	f.mu.Lock()
	if f.statusLocked().Refreshing {
		f.mu.Unlock()
		return errors.New().New(ErrInFlight)
	}
	gen, st := f.beginLocked(KindRefresh)
	f.mu.Unlock()
	f.notify(st)
	return f.run(ctx, KindRefresh, gen)
}

// Status returns the current flags and error.
func (f *Fetcher) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

// Dataset returns the last successfully fetched dataset, or nil when none
// was fetched or the latest fetch failed.
func (f *Fetcher) Dataset() *Dataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataset
}

func (f *Fetcher) statusLocked() Status {
	loading := f.inflight[KindLoad] > 0
	return Status{
		Loading:    loading,
		Refreshing: f.inflight[KindRefresh] > 0 && !loading,
		Error:      f.err,
		UpdatedAt:  f.updated,
	}
}

func (f *Fetcher) fetch(ctx context.Context, kind Kind) error {
	f.mu.Lock()
	gen, st := f.beginLocked(kind)
	f.mu.Unlock()
	f.notify(st)
	return f.run(ctx, kind, gen)
}

func (f *Fetcher) beginLocked(kind Kind) (uint64, Status) {
	f.gen++
	f.inflight[kind]++
	f.err = ""
	return f.gen, f.statusLocked()
}

func (f *Fetcher) run(ctx context.Context, kind Kind, gen uint64) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	ds, err := f.get(ctx)
	elapsed := time.Since(start)

	f.mu.Lock()
	f.inflight[kind]--
	stale := gen != f.gen
	if !stale {
		if err != nil {
			f.dataset = nil
			f.err = err.Error()
		} else {
			f.dataset = ds
			f.updated = time.Now()
		}
	}
	st := f.statusLocked()
	f.mu.Unlock()

	for _, o := range f.observers {
		o.FetchFinished(kind, elapsed, err)
	}

	if stale {
		logger.Debug().Str("kind", string(kind)).Uint64("generation", gen).Msg("Dropping superseded dataset response")
		for _, o := range f.observers {
			o.StaleDropped(kind)
		}
		f.notify(st)
		return errors.New().Wrap(ErrStale, err)
	}

	if err != nil {
		logger.Error().Err(err).Str("kind", string(kind)).Msg("Failed to fetch historical dataset")
	} else {
		logger.Debug().
			Str("kind", string(kind)).
			Int("today", len(ds.Today)).
			Int("week", len(ds.Week)).
			Int("month", len(ds.Month)).
			Dur("elapsed", elapsed).
			Msg("Historical dataset updated")
	}

	f.notify(st)
	return err
}

func (f *Fetcher) notify(st Status) {
	if f.onChange != nil {
		f.onChange(st)
	}
}

type envelope struct {
	Success *bool    `json:"success"`
	Data    *Dataset `json:"data"`
}

func (f *Fetcher) get(ctx context.Context) (*Dataset, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errFactory.Wrap(ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, errFactory.WithData(ErrBadStatus, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env); err != nil {
		return nil, errFactory.Wrap(ErrDecode, err)
	}

	if env.Success == nil || !*env.Success {
		return nil, errFactory.New(ErrRejected)
	}
	if env.Data == nil {
		return nil, errFactory.New(ErrMissingData)
	}
	if err := env.Data.Validate(); err != nil {
		return nil, err
	}

	return env.Data, nil
}
