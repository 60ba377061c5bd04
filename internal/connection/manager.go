// Package connection owns reader discovery and the connection lifecycle.
//
// A Manager runs at most one discovery/connect cycle at a time. The cycle is
// a small state machine (see cycle.apply); Manager executes the gateway calls
// it asks for, waits out retry delays, and publishes every transition to the
// status reporter.
package connection

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/service/shared"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithPolicy sets retry bounds and delays.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

// WithSleep replaces the retry delay implementation.
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// Manager is the single connection owner of a session.
type Manager struct {
	gw     reader.Gateway
	status *status.Reporter
	log    *zap.Logger
	policy Policy
	sleep  SleepFunc

	state  atomic.Int32
	reader atomic.Pointer[reader.Reader]

	mu        sync.Mutex
	done      chan struct{}
	lastErr   error
	listeners []func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a Manager and starts watching gw for unsolicited disconnects.
// Close must be called to release it.
func New(gw reader.Gateway, rep *status.Reporter, opts ...Option) *Manager {
	if gw == nil {
		panic("connection.New: nil gateway")
	}
	if rep == nil {
		rep = status.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		gw:     gw,
		status: rep,
		log:    zap.NewNop(),
		policy: DefaultPolicy(),
		sleep:  shared.SleepOrDone,
		done:   closed,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("connection")

	m.wg.Add(1)
	go m.watchDisconnects()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Reader returns the connected reader.
func (m *Manager) Reader() (reader.Reader, bool) {
	if r := m.reader.Load(); r != nil {
		return *r, true
	}
	return reader.Reader{}, false
}

// Err returns the error that ended the last cycle or connection, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnDisconnect registers fn to be called after an unexpected disconnect has
// moved the manager back to Disconnected.
func (m *Manager) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// EnsureConnected makes sure a connection exists or is being made. The
// returned channel is closed once the cycle it refers to has finished:
// immediately when already connected, the running cycle's channel while one
// is in progress, or a new cycle's channel when disconnected.
func (m *Manager) EnsureConnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Connected:
		m.status.Set(status.KindReady, status.TextReady)
		return closed
	case Discovering, Connecting:
		return m.done
	}
	if m.ctx.Err() != nil {
		return closed
	}

	c := newCycle(m.policy)
	done := make(chan struct{})
	m.done = done
	m.lastErr = nil
	m.commitLocked(c, c.start())

	m.wg.Add(1)
	go m.run(c, done)
	return done
}

// Close stops any running cycle and the disconnect watcher, waits for them
// and leaves the manager Disconnected. No retry timer survives Close.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Disconnected {
		m.state.Store(int32(Disconnected))
		m.reader.Store(nil)
		m.status.Set(status.KindIdle, status.TextIdle)
	}
}

func (m *Manager) run(c *cycle, done chan struct{}) {
	defer m.wg.Done()
	defer close(done)

	start := time.Now()
	act := c.start()
	for act.kind != doFinish {
		if act.delay > 0 {
			if err := m.sleep(m.ctx, act.delay); err != nil {
				m.abort(err)
				return
			}
		}

		ev := m.call(act.kind, c)
		if err := m.ctx.Err(); err != nil {
			m.abort(err)
			return
		}

		act = c.apply(ev)
		m.commit(c, act)
	}

	fields := []zap.Field{
		zap.Stringer("state", c.state),
		zap.Int("discovery_failures", c.discoverAttempts),
		zap.Int("connect_failures", c.connectAttempts),
		zap.Duration("elapsed", time.Since(start)),
	}
	if c.state == Connected {
		m.log.Info("reader connected", append(fields, zap.String("reader_id", c.connected.ID))...)
		return
	}
	m.log.Warn("reader connection cycle failed", append(fields, zap.Error(c.err))...)
}

func (m *Manager) call(kind actionKind, c *cycle) event {
	switch kind {
	case doDiscover:
		readers, err := m.gw.Discover(m.ctx)
		if err != nil {
			m.log.Debug("discover failed", zap.Error(err))
			return event{kind: evDiscoverFailed, err: err}
		}
		return event{kind: evDiscovered, readers: readers}

	case doConnect:
		if c.handle == nil {
			return event{kind: evConnectFailed, err: reader.ErrReaderUnavailable}
		}
		r, err := m.gw.Connect(m.ctx, *c.handle)
		if err != nil {
			m.log.Debug("connect failed", zap.String("reader_id", c.handle.ID), zap.Error(err))
			return event{kind: evConnectFailed, err: err}
		}
		if r.ID == "" {
			r = *c.handle
		}
		return event{kind: evConnected, reader: r}
	}
	return event{kind: -1}
}

func (m *Manager) commit(c *cycle, act action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitLocked(c, act)
}

func (m *Manager) commitLocked(c *cycle, act action) {
	m.state.Store(int32(c.state))
	switch c.state {
	case Connected:
		r := c.connected
		m.reader.Store(&r)
		m.lastErr = nil
	case Disconnected:
		m.reader.Store(nil)
		m.lastErr = c.err
	}
	m.status.Set(act.status, act.text)
}

// abort ends a cycle interrupted by Close.
func (m *Manager) abort(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(int32(Disconnected))
	m.reader.Store(nil)
	m.lastErr = err
	m.status.Set(status.KindIdle, status.TextIdle)
	m.log.Debug("connection cycle aborted", zap.Error(err))
}

func (m *Manager) watchDisconnects() {
	defer m.wg.Done()

	ch := m.gw.Disconnects()
	for {
		select {
		case <-m.ctx.Done():
			return
		case cause, ok := <-ch:
			if !ok {
				return
			}
			m.handleDisconnect(cause)
		}
	}
}

func (m *Manager) handleDisconnect(cause error) {
	m.mu.Lock()
	if m.State() != Connected {
		m.mu.Unlock()
		m.log.Debug("ignoring disconnect while not connected", zap.Error(cause))
		return
	}

	err := error(apperr.ErrReaderDisconnected)
	text := "Reader disconnected"
	if cause != nil {
		err = fmt.Errorf("%w: %w", apperr.ErrReaderDisconnected, cause)
		text += ": " + cause.Error()
	}
	m.state.Store(int32(Disconnected))
	m.reader.Store(nil)
	m.lastErr = err
	m.status.Set(status.KindError, text)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.log.Warn("reader disconnected unexpectedly", zap.Error(cause))
	for _, fn := range listeners {
		fn(err)
	}
}
