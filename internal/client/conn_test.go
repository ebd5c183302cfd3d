package client_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/client"
	"github.com/Tyrowin/companychat/internal/directory"
	"github.com/Tyrowin/companychat/internal/server"
	"github.com/Tyrowin/companychat/internal/testhelpers"
)

var (
	sam   = chat.Identity{UserID: "stu-sam", UserName: "Sam", UserRole: chat.RoleStudent}
	priya = chat.Identity{UserID: "pro-priya", UserName: "Priya", UserRole: chat.RoleProfessional}
)

func startServer(t *testing.T) string {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.RateLimit = server.RateLimitConfig{Burst: 1000, RefillInterval: time.Second}

	srv := server.New(server.Options{
		Config: *cfg,
		Logger: slogt.New(t),
		Directory: directory.New(
			[]directory.Company{{ID: "google", Name: "Google"}},
			[]directory.User{{ID: "pro-priya", Name: "Priya", Role: chat.RoleProfessional, CompanyName: "Google"}},
		),
	})
	srv.Start()
	ts := testhelpers.CreateTestServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})
	return ts.URL
}

type effects struct {
	mu  sync.Mutex
	got []client.Effect
}

func (e *effects) add(eff client.Effect) {
	e.mu.Lock()
	e.got = append(e.got, eff)
	e.mu.Unlock()
}

func (e *effects) kinds() []client.EffectKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]client.EffectKind, len(e.got))
	for i, eff := range e.got {
		out[i] = eff.Kind
	}
	return out
}

func dial(t *testing.T, url string, id chat.Identity, onEffect func(client.Effect)) *client.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, client.Options{ServerURL: url, Identity: id, Logger: slogt.New(t), OnEffect: onEffect})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Join(ctx, "google"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return c
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func visibleTexts(c *client.Conn) []string {
	var out []string
	for _, e := range c.Timeline().Visible() {
		out = append(out, e.Text)
	}
	return out
}

func TestConnReconcilesWithServer(t *testing.T) {
	url := startServer(t)

	var samEffects, priyaEffects effects
	samConn := dial(t, url, sam, samEffects.add)
	priyaConn := dial(t, url, priya, priyaEffects.add)

	eventually(t, "both online", func() bool { return len(samConn.Timeline().Online()) == 2 })

	for _, text := range []string{"first", "second", "any interview tips?"} {
		if _, err := samConn.Send(text, nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	settled := func(c *client.Conn) bool {
		entries := c.Timeline().Entries()
		if len(entries) != 3 {
			return false
		}
		for _, e := range entries {
			if e.Pending || e.ID == "" {
				return false
			}
		}
		return true
	}
	eventually(t, "sender echoes", func() bool { return settled(samConn) })
	eventually(t, "receiver copies", func() bool { return settled(priyaConn) })

	want := []string{"first", "second", "any interview tips?"}
	for name, c := range map[string]*client.Conn{"sam": samConn, "priya": priyaConn} {
		got := visibleTexts(c)
		if len(got) != len(want) {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: entry %d = %q, want %q", name, i, got[i], want[i])
			}
		}
	}
	if n := len(samEffects.kinds()); n != 0 {
		t.Errorf("Own messages should not notify the sender, got %v", samEffects.kinds())
	}
	eventually(t, "professional notifications", func() bool {
		var interview int
		for _, k := range priyaEffects.kinds() {
			if k == client.EffectInterviewHelp {
				interview++
			}
		}
		// One from the flagged broadcast and one from the unicast notification.
		return interview == 2
	})

	// Edit and delete propagate to both timelines.
	target := samConn.Timeline().Entries()[0].ID
	if err := samConn.Edit(target, "first (edited)"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "edit on receiver", func() bool {
		e := priyaConn.Timeline().Entries()[0]
		return e.Text == "first (edited)" && e.IsEdited
	})
	if err := samConn.Delete(target); err != nil {
		t.Fatal(err)
	}
	eventually(t, "delete on receiver", func() bool { return len(priyaConn.Timeline().Visible()) == 2 })
	eventually(t, "delete on sender", func() bool { return len(samConn.Timeline().Visible()) == 2 })
}

func TestConnJoinRehydratesFromHistory(t *testing.T) {
	url := startServer(t)

	first := dial(t, url, sam, nil)
	if _, err := first.Send("kept in history", nil); err != nil {
		t.Fatal(err)
	}
	eventually(t, "echo", func() bool {
		e := first.Timeline().Entries()
		return len(e) == 1 && !e[0].Pending
	})

	late := dial(t, url, priya, nil)
	entries := late.Timeline().Entries()
	if len(entries) != 1 || entries[0].Text != "kept in history" {
		t.Errorf("Expected history on join, got %+v", entries)
	}
}

// historyHook runs fn around the history request of a Join.
type historyHook struct {
	before, after func()
}

func (h historyHook) RoundTrip(req *http.Request) (*http.Response, error) {
	if h.before != nil {
		h.before()
	}
	resp, err := http.DefaultTransport.RoundTrip(req)
	if h.after != nil {
		h.after()
	}
	return resp, err
}

func TestConnJoinKeepsMessagesSentWhileJoining(t *testing.T) {
	tests := []struct {
		name string
		hook func(send func()) historyHook
	}{
		{"before history read", func(send func()) historyHook { return historyHook{before: send} }},
		{"after history read", func(send func()) historyHook { return historyHook{after: send} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := startServer(t)
			samConn := dial(t, url, sam, nil)

			send := func() {
				if _, err := samConn.Send("sent during join", nil); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
				eventually(t, "sender echo", func() bool {
					e := samConn.Timeline().Entries()
					return len(e) == 1 && !e[0].Pending
				})
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			priyaConn, err := client.Dial(ctx, client.Options{
				ServerURL:  url,
				Identity:   priya,
				Logger:     slogt.New(t),
				HTTPClient: &http.Client{Transport: tt.hook(send)},
			})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			t.Cleanup(func() { _ = priyaConn.Close() })
			if err := priyaConn.Join(ctx, "google"); err != nil {
				t.Fatalf("Join: %v", err)
			}

			eventually(t, "message on the joining client", func() bool {
				return len(priyaConn.Timeline().Entries()) >= 1
			})
			// Give a duplicate delivery time to show up.
			time.Sleep(100 * time.Millisecond)
			got := visibleTexts(priyaConn)
			if len(got) != 1 || got[0] != "sent during join" {
				t.Errorf("Expected the message exactly once, got %v", got)
			}
		})
	}
}

func TestConnJoinWaitsForServer(t *testing.T) {
	url := startServer(t)
	c := dial(t, url, sam, nil)

	if c.ID() == "" {
		t.Fatal("Expected the server to assign a connection id")
	}
	var listed bool
	for _, u := range c.Timeline().Online() {
		if u.ConnectionID == c.ID() {
			listed = true
		}
	}
	if !listed {
		t.Errorf("Join returned before the server listed the connection: %+v", c.Timeline().Online())
	}
}

func TestConnRejectedEdit(t *testing.T) {
	url := startServer(t)

	var effs effects
	samConn := dial(t, url, sam, nil)
	priyaConn := dial(t, url, priya, effs.add)

	if _, err := samConn.Send("mine", nil); err != nil {
		t.Fatal(err)
	}
	eventually(t, "receiver copy", func() bool { return len(priyaConn.Timeline().Entries()) == 1 })

	if err := priyaConn.Edit(priyaConn.Timeline().Entries()[0].ID, "hijacked"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "forbidden error", func() bool {
		for _, k := range effs.kinds() {
			if k == client.EffectRejected {
				return true
			}
		}
		return false
	})
	if e := samConn.Timeline().Entries()[0]; e.Text != "mine" {
		t.Errorf("Rejected edit changed the message: %+v", e)
	}
}

func TestSendRequiresRoom(t *testing.T) {
	url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Options{ServerURL: url, Identity: sam})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Send("nowhere", nil); err == nil {
		t.Error("Expected an error sending before Join")
	}
}
