package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/reader/readertest"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

// delays records every requested retry delay without waiting.
type delays struct {
	mu  sync.Mutex
	got []time.Duration
}

func (d *delays) sleep(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	d.got = append(d.got, dur)
	d.mu.Unlock()
	return ctx.Err()
}

func (d *delays) list() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.got...)
}

func newManager(t *testing.T, gw reader.Gateway, opts ...Option) (*Manager, *status.Reporter, *delays) {
	t.Helper()
	rep := status.New()
	d := &delays{}
	m := New(gw, rep, append([]Option{WithSleep(d.sleep)}, opts...)...)
	t.Cleanup(m.Close)
	return m, rep, d
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection cycle")
	}
}

func TestManagerConnectsFirstTime(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	m, rep, d := newManager(t, gw)

	require.Equal(t, Disconnected, m.State())
	wait(t, m.EnsureConnected())

	assert.Equal(t, Connected, m.State())
	r, ok := m.Reader()
	require.True(t, ok)
	assert.Equal(t, readertest.DefaultReader, r)
	assert.NoError(t, m.Err())
	assert.Empty(t, d.list())
	assert.Equal(t, []string{"discover", "connect"}, gw.Calls())
	assert.Equal(t, status.KindReady, rep.Current().Kind)
	assert.Equal(t, status.TextReady, rep.Current().Text)
}

func TestManagerDiscoveryRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.DiscoverFunc = func(_ context.Context, attempt int) ([]reader.Reader, error) {
		if attempt <= 2 {
			return nil, fmt.Errorf("scan %d failed", attempt)
		}
		return []reader.Reader{readertest.DefaultReader}, nil
	}
	m, rep, d := newManager(t, gw)

	wait(t, m.EnsureConnected())

	assert.Equal(t, Connected, m.State())
	assert.Equal(t, []time.Duration{DefaultDiscoveryDelay, DefaultDiscoveryDelay}, d.list())
	assert.Equal(t, 3, gw.Count("discover"))
	assert.Equal(t, 1, gw.Count("connect"))
	assert.Equal(t, status.KindReady, rep.Current().Kind)
}

func TestManagerDiscoveryGivesUp(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.DiscoverFunc = func(_ context.Context, attempt int) ([]reader.Reader, error) {
		return nil, fmt.Errorf("scan %d failed", attempt)
	}
	m, rep, d := newManager(t, gw)

	wait(t, m.EnsureConnected())

	assert.Equal(t, Disconnected, m.State())
	assert.EqualError(t, m.Err(), "scan 3 failed")
	assert.Len(t, d.list(), 2)
	assert.Equal(t, 3, gw.Count("discover"))
	assert.Zero(t, gw.Count("connect"))

	cur := rep.Current()
	assert.Equal(t, status.KindError, cur.Kind)
	assert.Equal(t, "Discovery failed: scan 3 failed", cur.Text)
}

func TestManagerNoReaderFound(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.DiscoverFunc = func(context.Context, int) ([]reader.Reader, error) { return nil, nil }
	m, rep, d := newManager(t, gw)

	wait(t, m.EnsureConnected())

	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Err(), apperr.ErrNoReaderFound)
	assert.Equal(t, status.TextNoReaderFound, rep.Current().Text)
	assert.Empty(t, d.list())
	assert.Equal(t, []string{"discover"}, gw.Calls())
}

func TestManagerConnectRetryReusesHandle(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	var seen []string
	var mu sync.Mutex
	gw.ConnectFunc = func(_ context.Context, r reader.Reader, attempt int) (reader.Reader, error) {
		mu.Lock()
		seen = append(seen, r.ID)
		mu.Unlock()
		if attempt == 1 {
			return reader.Reader{}, errors.New("bluetooth busy")
		}
		return r, nil
	}
	m, _, d := newManager(t, gw)

	wait(t, m.EnsureConnected())

	assert.Equal(t, Connected, m.State())
	assert.Equal(t, []string{"discover", "connect", "connect"}, gw.Calls())
	assert.Equal(t, []string{readertest.DefaultReader.ID, readertest.DefaultReader.ID}, seen)
	assert.Equal(t, []time.Duration{DefaultConnectDelay}, d.list())
}

func TestManagerUnavailableReaderRediscovers(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.ConnectFunc = func(_ context.Context, r reader.Reader, attempt int) (reader.Reader, error) {
		if attempt == 1 {
			return reader.Reader{}, reader.ErrReaderUnavailable
		}
		return r, nil
	}
	m, _, _ := newManager(t, gw)

	wait(t, m.EnsureConnected())

	assert.Equal(t, Connected, m.State())
	assert.Equal(t, []string{"discover", "connect", "discover", "connect"}, gw.Calls())
}

func TestManagerConnectGivesUp(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.ConnectFunc = func(context.Context, reader.Reader, int) (reader.Reader, error) {
		return reader.Reader{}, errors.New("pairing rejected")
	}
	m, rep, d := newManager(t, gw, WithPolicy(Policy{ConnectAttempts: 2, ConnectDelay: time.Second}))

	wait(t, m.EnsureConnected())

	assert.Equal(t, Disconnected, m.State())
	_, ok := m.Reader()
	assert.False(t, ok)
	assert.Equal(t, 2, gw.Count("connect"))
	assert.Equal(t, []time.Duration{time.Second}, d.list())
	assert.Equal(t, "Connection failed: pairing rejected", rep.Current().Text)
}

func TestManagerEnsureConnectedIsIdempotent(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	gw := readertest.New()
	gw.DiscoverFunc = func(ctx context.Context, _ int) ([]reader.Reader, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []reader.Reader{readertest.DefaultReader}, nil
	}
	m, rep, _ := newManager(t, gw)

	first := m.EnsureConnected()
	assert.Equal(t, Discovering, m.State())
	assert.Equal(t, status.KindBusy, rep.Current().Kind)

	second := m.EnsureConnected()
	assert.Equal(t, first, second)

	close(release)
	wait(t, first)
	assert.Equal(t, 1, gw.Count("discover"))

	again := m.EnsureConnected()
	select {
	case <-again:
	default:
		t.Fatal("expected a closed channel when already connected")
	}
	assert.Equal(t, 1, gw.Count("discover"))
	assert.Equal(t, status.TextReady, rep.Current().Text)
}

func TestManagerConcurrentEnsureConnected(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	m, _, _ := newManager(t, gw)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-m.EnsureConnected():
			case <-time.After(2 * time.Second):
				t.Error("timed out waiting for connection cycle")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, Connected, m.State())
	assert.Equal(t, 1, gw.Count("discover"))
	assert.Equal(t, 1, gw.Count("connect"))
}

func TestManagerRetryAfterFailure(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	gw.DiscoverFunc = func(_ context.Context, attempt int) ([]reader.Reader, error) {
		if attempt == 1 {
			return nil, nil
		}
		return []reader.Reader{readertest.DefaultReader}, nil
	}
	m, _, _ := newManager(t, gw)

	wait(t, m.EnsureConnected())
	require.Equal(t, Disconnected, m.State())

	wait(t, m.EnsureConnected())
	assert.Equal(t, Connected, m.State())
	assert.NoError(t, m.Err())
}

func TestManagerUnexpectedDisconnect(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	m, rep, _ := newManager(t, gw)

	notified := make(chan error, 1)
	m.OnDisconnect(func(err error) { notified <- err })

	wait(t, m.EnsureConnected())
	require.Equal(t, Connected, m.State())

	gw.Disconnect(errors.New("battery low"))

	var err error
	select {
	case err = <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect listener was not called")
	}

	assert.ErrorIs(t, err, apperr.ErrReaderDisconnected)
	assert.Equal(t, Disconnected, m.State())
	_, ok := m.Reader()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Err(), apperr.ErrReaderDisconnected)

	cur := rep.Current()
	assert.Equal(t, status.KindError, cur.Kind)
	assert.Equal(t, "Reader disconnected: battery low", cur.Text)
}

func TestManagerDisconnectNotifiesEveryListener(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	m, _, _ := newManager(t, gw)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	m.OnDisconnect(func(error) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		// Listeners run outside the manager lock.
		m.OnDisconnect(func(error) {})
		_ = m.State()
	})
	m.OnDisconnect(func(error) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		close(done)
	})

	wait(t, m.EnsureConnected())
	gw.Disconnect(errors.New("out of range"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManagerCloseInterruptsRetryDelay(t *testing.T) {
	t.Parallel()

	scanned := make(chan struct{}, 8)
	gw := readertest.New()
	gw.DiscoverFunc = func(context.Context, int) ([]reader.Reader, error) {
		scanned <- struct{}{}
		return nil, errors.New("radio off")
	}
	m := New(gw, status.New(), WithPolicy(Policy{DiscoveryAttempts: 3, DiscoveryDelay: time.Hour}))

	done := m.EnsureConnected()
	select {
	case <-scanned:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery never ran")
	}

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the retry delay")
	}
	wait(t, done)

	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Err(), context.Canceled)
	assert.Equal(t, 1, gw.Count("discover"))
}

func TestManagerEnsureConnectedAfterClose(t *testing.T) {
	t.Parallel()

	gw := readertest.New()
	m := New(gw, nil)
	m.Close()

	wait(t, m.EnsureConnected())
	assert.Equal(t, Disconnected, m.State())
	assert.Empty(t, gw.Calls())
}

func TestManagerCloseDisconnects(t *testing.T) {
	t.Parallel()

	rep := status.New()
	m := New(readertest.New(), rep)
	wait(t, m.EnsureConnected())
	require.Equal(t, Connected, m.State())

	m.Close()
	m.Close()

	assert.Equal(t, Disconnected, m.State())
	_, ok := m.Reader()
	assert.False(t, ok)
	assert.Equal(t, status.TextIdle, rep.Current().Text)
}
