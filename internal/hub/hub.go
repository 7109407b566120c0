// Package hub is the process-local registry and fan-out broadcaster for live
// subscriber streams, keyed by mailbox account. It is the only mutable shared
// state between admission requests and producer code; everything else talks
// to it through AddClient/RemoveClient/Broadcast.
//
// Delivery is best effort: a subscriber whose buffer is full drops events
// rather than backpressure the producer, and there is no persistence or
// replay. Clients that miss events refetch current state on next view.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailpulse/mailpulse/internal/events"
)

// Connection is one live subscriber stream for an (account, user) pair.
// It is owned by the hub's registry entry from AddClient until RemoveClient;
// the subscription handler drains Events and writes them to the transport.
type Connection struct {
	ID          string
	AccountID   string
	UserID      string
	ConnectedAt time.Time

	ch chan events.Envelope
}

// Events returns the connection's delivery channel. It is closed when the
// connection is removed from the hub.
func (c *Connection) Events() <-chan events.Envelope {
	return c.ch
}

// Hub fans out envelopes to every registered connection of an account.
// Safe for concurrent use by admission requests and producers.
type Hub struct {
	mu       sync.RWMutex
	accounts map[string]map[*Connection]struct{}
	bufSize  int
	logger   *slog.Logger
}

// New returns a Hub with the given per-connection buffer size.
// If bufSize <= 0, a default of 32 is used.
func New(bufSize int, logger *slog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		accounts: make(map[string]map[*Connection]struct{}),
		bufSize:  bufSize,
		logger:   logger,
	}
}

// AddClient registers a new subscriber for accountID and returns its handle.
// It never blocks.
func (h *Hub) AddClient(accountID, userID string) *Connection {
	conn := &Connection{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		UserID:      userID,
		ConnectedAt: time.Now(),
		ch:          make(chan events.Envelope, h.bufSize),
	}

	h.mu.Lock()
	set, ok := h.accounts[accountID]
	if !ok {
		set = make(map[*Connection]struct{})
		h.accounts[accountID] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("hub: client added", "account", accountID, "user", userID, "conn", conn.ID)
	return conn
}

// RemoveClient deregisters a connection and closes its channel. Removing an
// already-removed connection is a no-op; the disconnect and write-failure
// paths can race into a double removal.
func (h *Hub) RemoveClient(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	set, ok := h.accounts[conn.AccountID]
	if ok {
		if _, registered := set[conn]; registered {
			delete(set, conn)
			close(conn.ch)
			if len(set) == 0 {
				delete(h.accounts, conn.AccountID)
			}
			h.logger.Debug("hub: client removed", "account", conn.AccountID, "conn", conn.ID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers e to every registered connection for accountID.
// An account with no watchers is a normal no-op. A subscriber whose buffer
// is full drops the event; delivery to the others is unaffected.
func (h *Hub) Broadcast(accountID string, e events.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.accounts[accountID] {
		select {
		case conn.ch <- e:
		default:
			// Slow subscriber; drop for this connection only.
		}
	}
}

// CountForAccount returns the number of live connections for one account.
func (h *Hub) CountForAccount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}

// Count returns the total number of live connections across all accounts.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.accounts {
		n += len(set)
	}
	return n
}
