// Package subscriber maintains one logical event subscription per mailbox
// account on the client side: it opens the stream, tracks connection state,
// dispatches typed envelopes and triggers targeted cache invalidation.
package subscriber

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/mailpulse/mailpulse/internal/events"
)

// ConnectionState is the controller's externally visible lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// unsupportedMsg is the fixed error message when no streaming transport is
// available. Callers match on it to fall back to polling.
const unsupportedMsg = "unsupported"

// Invalidator receives targeted cache invalidation per event kind, so a
// draft autosave does not refetch the thread list and vice versa.
type Invalidator interface {
	InvalidateThreads(accountID string)
	InvalidateDrafts(accountID string)
}

// Snapshot is a point-in-time copy of the controller's state.
type Snapshot struct {
	AccountID         string
	Enabled           bool
	ConnectionState   ConnectionState
	LastSync          *events.SyncCompletedPayload
	LastEmailReceived *events.EmailReceivedPayload
	LastDraftSaved    *events.DraftSavedPayload
	ErrorMessage      string
}

// Controller is the client-side subscription state machine. At most one
// stream is in flight per controller; changing the account closes the old
// stream before opening a new one, never reparenting it. The controller
// does not retry on its own: after a transport error it stays in StateError
// until the caller disconnects and re-enables.
type Controller struct {
	transport   Transport
	invalidator Invalidator
	logger      *slog.Logger

	mu                sync.Mutex
	accountID         string
	enabled           bool
	state             ConnectionState
	errMsg            string
	lastSync          *events.SyncCompletedPayload
	lastEmailReceived *events.EmailReceivedPayload
	lastDraftSaved    *events.DraftSavedPayload

	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64
}

// New returns an idle controller. A nil transport means the environment has
// no streaming support at all: the controller starts in StateError with the
// fixed "unsupported" message and never attempts a connection.
func New(t Transport, inv Invalidator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		transport:   t,
		invalidator: inv,
		logger:      logger,
		state:       StateDisconnected,
	}
	if t == nil {
		c.state = StateError
		c.errMsg = unsupportedMsg
	}
	return c
}

// Subscribe sets the (accountID, enabled) pair the controller should hold a
// stream for. Any change tears down the current stream first; a stream is
// then opened iff enabled is true and accountID is non-empty. Calling with
// the current pair is a no-op, so reconnection stays edge-triggered.
func (c *Controller) Subscribe(accountID string, enabled bool) {
	if c.transport == nil {
		return
	}

	c.mu.Lock()
	if accountID == c.accountID && enabled == c.enabled {
		c.mu.Unlock()
		return
	}
	wait := c.stopCurrentLocked()
	c.accountID = accountID
	c.enabled = enabled
	connect := enabled && accountID != ""
	if !connect {
		c.state = StateDisconnected
		c.errMsg = ""
	}
	c.mu.Unlock()

	wait()
	if connect {
		c.connect()
	}
}

// SetAccount switches the watched account, keeping the enabled flag.
func (c *Controller) SetAccount(accountID string) {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	c.Subscribe(accountID, enabled)
}

// Disconnect closes any open stream and leaves the controller disconnected.
// It is idempotent.
func (c *Controller) Disconnect() {
	if c.transport == nil {
		return
	}

	c.mu.Lock()
	wait := c.stopCurrentLocked()
	c.enabled = false
	c.state = StateDisconnected
	c.errMsg = ""
	c.mu.Unlock()

	wait()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		AccountID:         c.accountID,
		Enabled:           c.enabled,
		ConnectionState:   c.state,
		LastSync:          copyPayload(c.lastSync),
		LastEmailReceived: copyPayload(c.lastEmailReceived),
		LastDraftSaved:    copyPayload(c.lastDraftSaved),
		ErrorMessage:      c.errMsg,
	}
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func copyPayload[T any](p *T) *T {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// stopCurrentLocked invalidates the in-flight stream, if any, and returns a
// function that cancels it and waits for its goroutine to exit. The wait
// must happen with the mutex released.
func (c *Controller) stopCurrentLocked() func() {
	if c.cancel == nil {
		return func() {}
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen++
	return func() {
		cancel()
		<-done
	}
}

func (c *Controller) connect() {
	c.mu.Lock()
	if !c.enabled || c.accountID == "" || c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.gen++
	gen := c.gen
	accountID := c.accountID
	c.state = StateConnecting
	c.errMsg = ""
	c.mu.Unlock()

	go c.run(ctx, cancel, gen, accountID, done)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen uint64, accountID string, done chan struct{}) {
	defer close(done)
	defer cancel()

	stream, err := c.transport.Connect(ctx, accountID)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(gen, err.Error())
		}
		return
	}
	defer stream.Close()

	// Unblock the pending Read when the subscription is torn down.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	scanner := bufio.NewScanner(stream)
	var eventName, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName != "" {
				c.dispatch(gen, accountID, eventName, data)
			}
			eventName, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		c.fail(gen, err.Error())
		return
	}
	c.fail(gen, "stream closed by server")
}

// fail records a transport error unless the stream has already been
// superseded by a newer subscription.
func (c *Controller) fail(gen uint64, msg string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.errMsg = msg
	c.mu.Unlock()
	c.logger.Warn("subscriber: stream error", "err", msg)
}

func (c *Controller) dispatch(gen uint64, accountID string, eventName, data string) {
	switch events.Kind(eventName) {
	case events.KindConnected:
		c.mu.Lock()
		if gen == c.gen {
			c.state = StateConnected
		}
		c.mu.Unlock()

	case events.KindSyncCompleted:
		var p events.SyncCompletedPayload
		if json.Unmarshal([]byte(data), &p) != nil {
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.lastSync = &p
		}
		c.mu.Unlock()
		c.invalidateThreads(accountID)
		c.invalidateDrafts(accountID)

	case events.KindEmailReceived:
		var p events.EmailReceivedPayload
		if json.Unmarshal([]byte(data), &p) != nil {
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.lastEmailReceived = &p
		}
		c.mu.Unlock()
		c.invalidateThreads(accountID)

	case events.KindDraftSaved:
		var p events.DraftSavedPayload
		if json.Unmarshal([]byte(data), &p) != nil {
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.lastDraftSaved = &p
		}
		c.mu.Unlock()
		c.invalidateDrafts(accountID)

	case events.KindEmailDeleted:
		c.invalidateThreads(accountID)
		c.invalidateDrafts(accountID)

	default:
		// Unknown kinds from newer servers are ignored.
	}
}

func (c *Controller) invalidateThreads(accountID string) {
	if c.invalidator != nil {
		c.invalidator.InvalidateThreads(accountID)
	}
}

func (c *Controller) invalidateDrafts(accountID string) {
	if c.invalidator != nil {
		c.invalidator.InvalidateDrafts(accountID)
	}
}
