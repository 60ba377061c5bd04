package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

// State is the reader connection state.
type State int32

const (
	Disconnected State = iota
	Discovering
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Busy reports whether a discovery/connect cycle is running.
func (s State) Busy() bool { return s == Discovering || s == Connecting }

// Policy bounds the retry loops. Discovery and connection are tuned
// independently.
type Policy struct {
	DiscoveryAttempts int
	DiscoveryDelay    time.Duration
	ConnectAttempts   int
	ConnectDelay      time.Duration
}

const (
	DefaultDiscoveryAttempts = 3
	DefaultDiscoveryDelay    = 2 * time.Second
	DefaultConnectAttempts   = 3
	DefaultConnectDelay      = 2 * time.Second
)

// DefaultPolicy returns 3 attempts spaced 2s apart for both loops.
func DefaultPolicy() Policy {
	return Policy{
		DiscoveryAttempts: DefaultDiscoveryAttempts,
		DiscoveryDelay:    DefaultDiscoveryDelay,
		ConnectAttempts:   DefaultConnectAttempts,
		ConnectDelay:      DefaultConnectDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.DiscoveryAttempts <= 0 {
		p.DiscoveryAttempts = DefaultDiscoveryAttempts
	}
	if p.ConnectAttempts <= 0 {
		p.ConnectAttempts = DefaultConnectAttempts
	}
	if p.DiscoveryDelay < 0 {
		p.DiscoveryDelay = 0
	}
	if p.ConnectDelay < 0 {
		p.ConnectDelay = 0
	}
	return p
}

type eventKind int

const (
	evDiscovered eventKind = iota
	evDiscoverFailed
	evConnected
	evConnectFailed
)

// event is the outcome of one gateway call.
type event struct {
	kind    eventKind
	readers []reader.Reader
	reader  reader.Reader
	err     error
}

type actionKind int

const (
	doDiscover actionKind = iota
	doConnect
	doFinish
)

// action is what the cycle asks the runner to do next.
type action struct {
	kind   actionKind
	delay  time.Duration
	status status.Kind
	text   string
}

// cycle is one discovery/connect run. apply is its whole transition table:
// it only looks at the cycle and the event, and only mutates the cycle.
type cycle struct {
	policy Policy

	state            State
	discoverAttempts int
	connectAttempts  int
	handle           *reader.Reader
	connected        reader.Reader
	err              error
}

func newCycle(p Policy) *cycle {
	return &cycle{policy: p.withDefaults(), state: Discovering}
}

// start is the first action of every cycle.
func (c *cycle) start() action {
	return action{kind: doDiscover, status: status.KindBusy, text: "Discovering readers"}
}

func (c *cycle) apply(ev event) action {
	switch ev.kind {
	case evDiscovered:
		if len(ev.readers) == 0 {
			c.state = Disconnected
			c.err = apperr.ErrNoReaderFound
			return action{kind: doFinish, status: status.KindError, text: status.TextNoReaderFound}
		}
		r := ev.readers[0]
		c.handle = &r
		c.state = Connecting
		return action{kind: doConnect, status: status.KindBusy, text: "Connecting to " + label(r)}

	case evDiscoverFailed:
		c.discoverAttempts++
		c.err = ev.err
		if c.discoverAttempts >= c.policy.DiscoveryAttempts {
			c.state = Disconnected
			return action{kind: doFinish, status: status.KindError, text: "Discovery failed: " + ev.err.Error()}
		}
		return action{
			kind:   doDiscover,
			delay:  c.policy.DiscoveryDelay,
			status: status.KindBusy,
			text:   fmt.Sprintf("Discovery failed (attempt %d of %d), retrying", c.discoverAttempts, c.policy.DiscoveryAttempts),
		}

	case evConnected:
		c.connected = ev.reader
		c.state = Connected
		c.err = nil
		return action{kind: doFinish, status: status.KindReady, text: status.TextReady}

	case evConnectFailed:
		c.connectAttempts++
		c.err = ev.err
		if c.connectAttempts >= c.policy.ConnectAttempts {
			c.state = Disconnected
			c.handle = nil
			return action{kind: doFinish, status: status.KindError, text: "Connection failed: " + ev.err.Error()}
		}
		text := fmt.Sprintf("Connection failed (attempt %d of %d), retrying", c.connectAttempts, c.policy.ConnectAttempts)
		if errors.Is(ev.err, reader.ErrReaderUnavailable) {
			c.handle = nil
			c.state = Discovering
			c.discoverAttempts = 0
			return action{kind: doDiscover, delay: c.policy.ConnectDelay, status: status.KindBusy, text: text}
		}
		return action{kind: doConnect, delay: c.policy.ConnectDelay, status: status.KindBusy, text: text}
	}

	c.state = Disconnected
	c.err = fmt.Errorf("unknown connection event %d", ev.kind)
	return action{kind: doFinish, status: status.KindError, text: c.err.Error()}
}

func label(r reader.Reader) string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}
