package history_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeHours = `{"success":true,"data":{
	"today":[{"hour":8,"power":60,"current":260,"voltage":230},{"hour":9,"power":75,"current":330,"voltage":231},{"hour":10,"power":90,"current":390,"voltage":232}],
	"week":[],
	"month":[]}}`

type backend struct {
	mu     sync.Mutex
	status int
	body   string
	hits   atomic.Int32
}

func (b *backend) set(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.body = status, body
}

func (b *backend) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	b.hits.Add(1)
	b.mu.Lock()
	status, body := b.status, b.body
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newBackend(t *testing.T, status int, body string) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{status: status, body: body}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func TestLoadSuccess(t *testing.T) {
	_, srv := newBackend(t, http.StatusOK, threeHours)

	var changes []history.Status
	f := history.NewFetcher(srv.URL, history.WithOnChange(func(s history.Status) {
		changes = append(changes, s)
	}))

	require.NoError(t, f.Load(context.Background()))

	ds := f.Dataset()
	require.NotNil(t, ds)
	require.Len(t, ds.Today, 3)
	assert.Equal(t, []int{8, 9, 10}, []int{ds.Today[0].Hour, ds.Today[1].Hour, ds.Today[2].Hour})
	assert.Empty(t, ds.Week)

	st := f.Status()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.False(t, st.UpdatedAt.IsZero())

	require.Len(t, changes, 2)
	assert.True(t, changes[0].Loading, "loading is raised while the request is in flight")
	assert.False(t, changes[0].Refreshing)
	assert.False(t, changes[1].Loading)
}

func TestRefreshRaisesRefreshing(t *testing.T) {
	_, srv := newBackend(t, http.StatusOK, threeHours)

	var changes []history.Status
	f := history.NewFetcher(srv.URL, history.WithOnChange(func(s history.Status) {
		changes = append(changes, s)
	}))

	require.NoError(t, f.Refresh(context.Background()))
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Refreshing)
	assert.False(t, changes[0].Loading)
	assert.False(t, changes[1].Refreshing)
}

func TestFailuresSetErrorAndDiscardDataset(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   errors.ErrorCode
	}{
		{"server error", http.StatusInternalServerError, `{"success":false}`, history.ErrBadStatus},
		{"not found", http.StatusNotFound, ``, history.ErrBadStatus},
		{"success false", http.StatusOK, `{"success":false}`, history.ErrRejected},
		{"success absent", http.StatusOK, `{"data":{"today":[],"week":[],"month":[]}}`, history.ErrRejected},
		{"no data", http.StatusOK, `{"success":true}`, history.ErrMissingData},
		{"garbage", http.StatusOK, `<html>`, history.ErrDecode},
		{"bad bucket", http.StatusOK, `{"success":true,"data":{"today":[{"hour":30,"power":1,"current":1,"voltage":230}]}}`, history.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, srv := newBackend(t, http.StatusOK, threeHours)
			f := history.NewFetcher(srv.URL)

			require.NoError(t, f.Load(context.Background()))
			require.NotNil(t, f.Dataset())

			b.set(tt.status, tt.body)
			err := f.Refresh(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))

			assert.Nil(t, f.Dataset(), "a failed fetch hides the previous dataset")
			st := f.Status()
			assert.NotEmpty(t, st.Error)
			assert.False(t, st.Refreshing)

			b.set(http.StatusOK, threeHours)
			require.NoError(t, f.Refresh(context.Background()))
			assert.NotNil(t, f.Dataset())
			assert.Empty(t, f.Status().Error, "a successful fetch clears the error")
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := history.NewFetcher(url)
	err := f.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, history.ErrRequest, errors.CodeOf(err))
	assert.Contains(t, f.Status().Error, "Dataset request failed")
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := history.NewFetcher(srv.URL, history.WithTimeout(50*time.Millisecond))
	err := f.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, history.ErrRequest, errors.CodeOf(err))
	assert.False(t, f.Status().Loading)
}

type countingObserver struct {
	finished atomic.Int32
	stale    atomic.Int32
}

func (c *countingObserver) FetchFinished(history.Kind, time.Duration, error) { c.finished.Add(1) }

func (c *countingObserver) StaleDropped(history.Kind) { c.stale.Add(1) }

func TestStaleResponseIsDropped(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(slowStarted)
			<-releaseSlow
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(threeHours))
	}))
	t.Cleanup(srv.Close)

	obs := &countingObserver{}
	f := history.NewFetcher(srv.URL, history.WithObserver(obs))

	slowDone := make(chan error, 1)
	go func() { slowDone <- f.Refresh(context.Background()) }()
	<-slowStarted

	require.NoError(t, f.Refresh(context.Background()))
	require.NotNil(t, f.Dataset())
	assert.True(t, f.Status().Refreshing, "the older refresh is still in flight")

	close(releaseSlow)
	err := <-slowDone
	require.Error(t, err)
	assert.Equal(t, history.ErrStale, errors.CodeOf(err))

	assert.NotNil(t, f.Dataset(), "an older failure must not wipe a newer result")
	st := f.Status()
	assert.Empty(t, st.Error)
	assert.False(t, st.Refreshing)
	assert.Equal(t, int32(2), obs.finished.Load())
	assert.Equal(t, int32(1), obs.stale.Load())
}

func TestLoadingWinsOverRefreshing(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(threeHours))
	}))
	t.Cleanup(srv.Close)

	f := history.NewFetcher(srv.URL)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = f.Load(context.Background()) }()
	go func() { defer wg.Done(); _ = f.Refresh(context.Background()) }()
	<-started
	<-started

	st := f.Status()
	assert.True(t, st.Loading)
	assert.False(t, st.Refreshing, "loading and refreshing are never reported together")

	close(release)
	wg.Wait()
}

func TestTryRefreshRejectsWhileRefreshing(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(threeHours))
	}))
	t.Cleanup(srv.Close)

	f := history.NewFetcher(srv.URL)

	first := make(chan error, 1)
	go func() { first <- f.TryRefresh(context.Background()) }()
	require.Eventually(t, func() bool { return f.Status().Refreshing }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	var rejected atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.CodeOf(f.TryRefresh(context.Background())) == history.ErrInFlight {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(50), rejected.Load())
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, f.Status().Refreshing)
	require.NotNil(t, f.Dataset())
}
