package notify_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mailpulse/mailpulse/internal/events"
	"github.com/mailpulse/mailpulse/internal/notify"
)

type recordingBroadcaster struct {
	accountIDs []string
	envelopes  []events.Envelope
}

func (r *recordingBroadcaster) Broadcast(accountID string, e events.Envelope) {
	r.accountIDs = append(r.accountIDs, accountID)
	r.envelopes = append(r.envelopes, e)
}

func TestBroadcastHelpers_WrapEnvelopes(t *testing.T) {
	rec := &recordingBroadcaster{}
	n := notify.New(rec, notify.Config{})

	n.BroadcastSyncCompleted("acct-1", events.SyncCompletedPayload{SyncType: events.SyncFull, ThreadsProcessed: 3})
	n.BroadcastEmailReceived("acct-1", events.EmailReceivedPayload{MessageID: "m1"})
	n.BroadcastDraftSaved("acct-1", events.DraftSavedPayload{DraftID: "d1"})
	n.BroadcastEmailDeleted("acct-2", events.EmailDeletedPayload{MessageID: "m2"})

	want := []events.Kind{
		events.KindSyncCompleted,
		events.KindEmailReceived,
		events.KindDraftSaved,
		events.KindEmailDeleted,
	}
	if len(rec.envelopes) != len(want) {
		t.Fatalf("expected %d envelopes, got %d", len(want), len(rec.envelopes))
	}
	for i, kind := range want {
		if rec.envelopes[i].Kind != kind {
			t.Errorf("envelope %d: kind = %s, want %s", i, rec.envelopes[i].Kind, kind)
		}
	}
	if rec.accountIDs[3] != "acct-2" {
		t.Errorf("accountID = %s, want acct-2", rec.accountIDs[3])
	}
}

func TestNilBroadcaster_IsSafe(t *testing.T) {
	n := notify.New(nil, notify.Config{})
	// Must not panic.
	n.BroadcastDraftSaved("acct-1", events.DraftSavedPayload{DraftID: "d1"})
}

func TestWebhookMirror(t *testing.T) {
	received := make(chan events.Envelope, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e events.Envelope
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received <- e
	}))
	defer ts.Close()

	rec := &recordingBroadcaster{}
	n := notify.New(rec, notify.Config{Webhook: ts.URL})
	n.BroadcastEmailReceived("acct-1", events.EmailReceivedPayload{MessageID: "m1", Subject: "hi"})

	e := <-received
	if e.Kind != events.KindEmailReceived || e.AccountID != "acct-1" {
		t.Errorf("unexpected mirrored envelope: %+v", e)
	}
	if len(rec.envelopes) != 1 {
		t.Errorf("hub delivery should still happen, got %d envelopes", len(rec.envelopes))
	}
}
