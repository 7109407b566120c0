package subscriber_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mailpulse/mailpulse/internal/db"
	"github.com/mailpulse/mailpulse/internal/events"
	"github.com/mailpulse/mailpulse/internal/hub"
	"github.com/mailpulse/mailpulse/internal/notify"
	"github.com/mailpulse/mailpulse/internal/subscriber"
	"github.com/mailpulse/mailpulse/internal/webserver"
)

// End to end: HTTPTransport against a real subscription endpoint.
func TestHTTPTransport_EndToEnd(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser("alice", "hash")
	if err != nil {
		t.Fatal(err)
	}
	account, err := store.CreateMailAccount(user.ID, "alice@example.com", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	h := hub.New(16, nil)
	srv := webserver.New(store, h, webserver.Config{
		Auth:      webserver.AuthConfig{JWTSecret: "test-secret"},
		Keepalive: "10s",
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	token, err := webserver.IssueAccessToken("test-secret", user.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	c := subscriber.New(&subscriber.HTTPTransport{BaseURL: ts.URL, Token: token}, nil, nil)
	c.Subscribe(account.ID, true)
	defer c.Disconnect()

	waitFor(t, func() bool { return c.State() == subscriber.StateConnected },
		"controller never reached connected state")
	waitFor(t, func() bool { return h.CountForAccount(account.ID) == 1 },
		"subscriber never registered with the hub")

	producer := notify.New(h, notify.Config{})
	producer.BroadcastDraftSaved(account.ID, events.DraftSavedPayload{DraftID: "d1", Subject: "wip"})

	waitFor(t, func() bool { return c.Snapshot().LastDraftSaved != nil },
		"lastDraftSaved never set")
	if got := c.Snapshot().LastDraftSaved.DraftID; got != "d1" {
		t.Errorf("draftId = %q", got)
	}
}

func TestHTTPTransport_RejectedByGate(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	h := hub.New(16, nil)
	srv := webserver.New(store, h, webserver.Config{
		Auth: webserver.AuthConfig{JWTSecret: "test-secret"},
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := subscriber.New(&subscriber.HTTPTransport{BaseURL: ts.URL, Token: "garbage"}, nil, nil)
	c.Subscribe("acct-1", true)
	defer c.Disconnect()

	waitFor(t, func() bool { return c.State() == subscriber.StateError },
		"controller should enter error state on a 401")
	if msg := c.Snapshot().ErrorMessage; msg == "" {
		t.Error("expected a human-readable error message")
	}
	if h.Count() != 0 {
		t.Error("registry must stay empty")
	}
}
