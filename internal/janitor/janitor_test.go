package janitor_test

import (
	"testing"
	"time"

	"github.com/mailpulse/mailpulse/internal/db"
	"github.com/mailpulse/mailpulse/internal/hub"
	"github.com/mailpulse/mailpulse/internal/janitor"
)

func TestRunOnce_PurgesExpiredTokens(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	user, _ := store.CreateUser("alice", "h")
	store.SaveRefreshToken("live", user.ID, time.Now().Add(time.Hour))
	store.SaveRefreshToken("dead", user.ID, time.Now().Add(-time.Hour))

	j := janitor.New(store, hub.New(8, nil), nil)
	j.RunOnce()

	if _, err := store.GetRefreshToken("dead"); err == nil {
		t.Error("expired token should have been purged")
	}
	if _, err := store.GetRefreshToken("live"); err != nil {
		t.Error("live token must survive")
	}
}

func TestStartStop(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	j := janitor.New(store, hub.New(8, nil), nil)
	j.Start()
	j.Stop() // must not hang or panic
}
