package webserver_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mailpulse/mailpulse/internal/events"
	"github.com/mailpulse/mailpulse/internal/notify"
	"github.com/mailpulse/mailpulse/internal/webserver"
)

func TestWSEvents_StreamDelivery(t *testing.T) {
	srv, h, store := newTestServer(t)
	user := seedUser(t, store, "alice", "password")
	account, err := store.CreateMailAccount(user.ID, "alice@example.com", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	token, _ := webserver.IssueAccessToken(testSecret, user.ID, time.Hour)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events/" + account.ID + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var connected events.Envelope
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if connected.Kind != events.KindConnected || connected.AccountID != account.ID {
		t.Fatalf("unexpected first frame: %+v", connected)
	}

	waitFor(t, func() bool { return h.CountForAccount(account.ID) == 1 },
		"subscriber never registered with the hub")

	producer := notify.New(h, notify.Config{})
	producer.BroadcastEmailReceived(account.ID, events.EmailReceivedPayload{
		MessageID: "m1", ThreadID: "t1", From: "bob@example.com", Subject: "hello",
	})

	var received events.Envelope
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("read event frame: %v", err)
	}
	if received.Kind != events.KindEmailReceived {
		t.Errorf("frame kind = %q", received.Kind)
	}

	conn.Close()
	waitFor(t, func() bool { return h.CountForAccount(account.ID) == 0 },
		"subscriber never deregistered after close")
}

func TestWSEvents_RequiresAuth(t *testing.T) {
	srv, h, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/ws/events/acct-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if h.Count() != 0 {
		t.Error("registry must stay empty")
	}
}
