package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mailpulse/mailpulse/internal/events"
)

func TestNewConnected_Payload(t *testing.T) {
	e := events.NewConnected("acct-1")
	if e.Kind != events.KindConnected || e.AccountID != "acct-1" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
	p, ok := e.Payload.(events.ConnectedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", e.Payload)
	}
	if p.AccountID != "acct-1" {
		t.Errorf("payload accountId = %q", p.AccountID)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", p.Timestamp, err)
	}
}

func TestPayloadFieldNames(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    []string
	}{
		{"email-received", events.EmailReceivedPayload{}, []string{"messageId", "threadId", "from", "subject"}},
		{"draft-saved", events.DraftSavedPayload{}, []string{"draftId", "subject"}},
		{"email-deleted", events.EmailDeletedPayload{}, []string{"messageId", "threadId"}},
		{"sync-completed", events.SyncCompletedPayload{}, []string{"syncType", "threadsProcessed", "messagesProcessed", "durationMs"}},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		for _, field := range tc.want {
			if _, ok := m[field]; !ok {
				t.Errorf("%s: missing field %q in %s", tc.name, field, data)
			}
		}
		if len(m) != len(tc.want) {
			t.Errorf("%s: got %d fields, want %d: %s", tc.name, len(m), len(tc.want), data)
		}
	}
}
