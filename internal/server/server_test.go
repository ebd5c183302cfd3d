package server_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/directory"
	"github.com/Tyrowin/companychat/internal/metrics"
	"github.com/Tyrowin/companychat/internal/server"
	"github.com/Tyrowin/companychat/internal/testhelpers"
)

var (
	alice = chat.Identity{UserID: "stu-alice", UserName: "Alice", UserRole: chat.RoleStudent}
	bob   = chat.Identity{UserID: "stu-bob", UserName: "Bob", UserRole: chat.RoleStudent}
	carol = chat.Identity{UserID: "stu-carol", UserName: "Carol", UserRole: chat.RoleStudent}
	priya = chat.Identity{UserID: "pro-priya", UserName: "Priya", UserRole: chat.RoleProfessional, Email: "priya@google.com"}
)

func testDirectory() *directory.Directory {
	return directory.New(
		[]directory.Company{{ID: "google", Name: "Google"}, {ID: "meta", Name: "Meta"}},
		[]directory.User{
			{ID: "pro-priya", Name: "Priya", Email: "priya@google.com", Role: chat.RoleProfessional, CompanyName: "Google", Token: "tok-priya"},
			{ID: "stu-alice", Name: "Alice", Email: "alice@example.com", Role: chat.RoleStudent, Token: "tok-alice"},
			{ID: "stu-bob", Name: "Bob", Role: chat.RoleStudent},
		},
	)
}

// newTestServer starts a server with a permissive rate limit on an
// httptest listener. customize may adjust the options before New.
func newTestServer(t *testing.T, customize func(*server.Options)) (*server.Server, *httptest.Server) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.RateLimit = server.RateLimitConfig{Burst: 1000, RefillInterval: time.Second}

	opts := server.Options{
		Config:    *cfg,
		Directory: testDirectory(),
		Logger:    slogt.New(t),
		Metrics:   metrics.New(),
	}
	if customize != nil {
		customize(&opts)
	}

	srv := server.New(opts)
	srv.Start()
	ts := testhelpers.CreateTestServer(srv.Routes())
	t.Cleanup(func() {
		if err := srv.Hub().Shutdown(2 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
		ts.Close()
	})
	return srv, ts
}

// connect opens a socket for id in roomID and waits for the first presence
// snapshot, so the connection is registered when it returns.
func connect(t *testing.T, ts *httptest.Server, id chat.Identity, roomID string) (*websocket.Conn, *testhelpers.EventReader) {
	t.Helper()

	conn, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(ts.URL, testhelpers.IdentityQuery(id, roomID)))
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", id.UserID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	r := testhelpers.NewEventReader(conn)
	if roomID != "" {
		waitPresence(t, r, roomID, 0)
	}
	return conn, r
}

// waitPresence reads presence snapshots of roomID until one lists want
// connections (or any count when want is 0) and returns it.
func waitPresence(t *testing.T, r *testhelpers.EventReader, roomID string, want int) chat.PresencePayload {
	t.Helper()
	for {
		var p chat.PresencePayload
		r.WaitFor(t, chat.EventPresenceUpdated, &p)
		if p.RoomID != roomID {
			continue
		}
		if want == 0 || len(p.Users) == want {
			return p
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := testhelpers.SendEvent(conn, event, payload); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func userIDs(p chat.PresencePayload) []string {
	ids := make([]string, 0, len(p.Users))
	for _, u := range p.Users {
		ids = append(ids, u.UserID)
	}
	return ids
}
