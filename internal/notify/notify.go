// Package notify is the producer-facing surface of the event hub. The mail
// sync pipeline and the compose/send pipeline call these helpers instead of
// constructing envelopes themselves.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mailpulse/mailpulse/internal/events"
)

// Config holds optional event mirroring settings. When Webhook is set every
// broadcast envelope is also POSTed there as JSON, best effort.
type Config struct {
	Webhook string `json:"webhook"`
}

// Notifier wraps a Broadcaster with envelope construction per event kind.
type Notifier struct {
	broadcaster events.Broadcaster
	cfg         Config
	client      *http.Client
}

// New returns a Notifier delivering through b. b may be nil; broadcasts
// then only feed the webhook mirror, if configured.
func New(b events.Broadcaster, cfg Config) *Notifier {
	return &Notifier{
		broadcaster: b,
		cfg:         cfg,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Notifier) BroadcastSyncCompleted(accountID string, p events.SyncCompletedPayload) {
	n.send(events.NewSyncCompleted(accountID, p))
}

func (n *Notifier) BroadcastEmailReceived(accountID string, p events.EmailReceivedPayload) {
	n.send(events.NewEmailReceived(accountID, p))
}

func (n *Notifier) BroadcastDraftSaved(accountID string, p events.DraftSavedPayload) {
	n.send(events.NewDraftSaved(accountID, p))
}

func (n *Notifier) BroadcastEmailDeleted(accountID string, p events.EmailDeletedPayload) {
	n.send(events.NewEmailDeleted(accountID, p))
}

func (n *Notifier) send(e events.Envelope) {
	if n.broadcaster != nil {
		n.broadcaster.Broadcast(e.AccountID, e)
	}
	if n.cfg.Webhook != "" {
		n.sendWebhook(e)
	}
}

func (n *Notifier) sendWebhook(e events.Envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	resp, err := n.client.Post(n.cfg.Webhook, "application/json", bytes.NewReader(data))
	if err != nil {
		return
	}
	resp.Body.Close()
}
