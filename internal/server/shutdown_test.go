package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/companychat/internal/testhelpers"
)

func TestGracefulShutdownClosesClients(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	_, ra := connect(t, ts, alice, "google")
	_, rb := connect(t, ts, bob, "google")
	waitPresence(t, ra, "google", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for name, r := range map[string]*testhelpers.EventReader{"alice": ra, "bob": rb} {
		closed := false
		for i := 0; i < 10; i++ {
			if _, err := r.Next(time.Second); err != nil {
				closed = true
				break
			}
		}
		if !closed {
			t.Errorf("%s: expected the connection to be closed by shutdown", name)
		}
	}
}

func TestShutdownWithoutClients(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
