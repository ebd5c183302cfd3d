package client

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Tyrowin/companychat/internal/chat"
)

var (
	sam   = chat.Identity{UserID: "stu-sam", UserName: "Sam", UserRole: chat.RoleStudent}
	priya = chat.Identity{UserID: "pro-priya", UserName: "Priya", UserRole: chat.RoleProfessional}
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func envelope(t *testing.T, event string, data any) chat.Envelope {
	t.Helper()
	env, err := chat.NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func apply(t *testing.T, tl *Timeline, event string, data any) Effect {
	t.Helper()
	eff, err := tl.Apply(envelope(t, event, data))
	if err != nil {
		t.Fatalf("Apply(%s): %v", event, err)
	}
	return eff
}

func newTestTimeline(self chat.Identity) *Timeline {
	tl := NewTimeline(self, time.Minute)
	clock := t0
	tl.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return tl
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func msg(id, author string, at time.Time) chat.Message {
	return chat.Message{ID: id, RoomID: "google", Text: "text " + id, AuthorID: author, AuthorName: author, Timestamp: at}
}

func TestEchoReplacesOptimisticEntryExactlyOnce(t *testing.T) {
	tl := newTestTimeline(sam)

	local := tl.AddLocal(Draft{RoomID: "google", Text: "hello"})
	if local.ClientToken == "" || local.ID != "" {
		t.Fatalf("Expected a token and no server id on the local message, got %+v", local)
	}
	entries := tl.Entries()
	if len(entries) != 1 || !entries[0].Pending {
		t.Fatalf("Expected one pending entry, got %+v", entries)
	}

	echo := local
	echo.ID = "m1"
	echo.Timestamp = local.Timestamp.Add(50 * time.Millisecond)
	if eff := apply(t, tl, chat.EventNewMessage, echo); eff.Kind != EffectNone {
		t.Errorf("Own echo should not notify, got %v", eff.Kind)
	}
	// A replayed broadcast is deduplicated by id.
	apply(t, tl, chat.EventNewMessage, echo)

	entries = tl.Entries()
	if len(entries) != 1 {
		t.Fatalf("Expected exactly one entry, got %d", len(entries))
	}
	if entries[0].ID != "m1" || entries[0].Pending || !entries[0].Timestamp.Equal(echo.Timestamp) {
		t.Errorf("Expected the canonical record, got %+v", entries[0])
	}
}

func TestRapidSendsKeepOrder(t *testing.T) {
	tl := newTestTimeline(sam)

	first := tl.AddLocal(Draft{RoomID: "google", Text: "one"})
	second := tl.AddLocal(Draft{RoomID: "google", Text: "two"})

	// Echoes arrive in server order with server timestamps.
	e1, e2 := first, second
	e1.ID, e1.Timestamp = "s1", t0.Add(time.Hour)
	e2.ID, e2.Timestamp = "s2", t0.Add(time.Hour+time.Millisecond)
	apply(t, tl, chat.EventNewMessage, e1)
	apply(t, tl, chat.EventNewMessage, e2)

	if diff := cmp.Diff([]string{"s1", "s2"}, ids(tl.Entries())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesAreOrderedByTimestamp(t *testing.T) {
	tl := newTestTimeline(sam)

	apply(t, tl, chat.EventNewMessage, msg("late", "x", t0.Add(2*time.Minute)))
	apply(t, tl, chat.EventNewMessage, msg("early", "x", t0))
	apply(t, tl, chat.EventNewMessage, msg("tie-a", "x", t0.Add(time.Minute)))
	apply(t, tl, chat.EventNewMessage, msg("tie-b", "x", t0.Add(time.Minute)))

	want := []string{"early", "tie-a", "tie-b", "late"}
	if diff := cmp.Diff(want, ids(tl.Entries())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestNotificationEffects(t *testing.T) {
	help := msg("h1", sam.UserID, t0)
	help.IsInterviewHelp = true

	tests := []struct {
		name string
		self chat.Identity
		msg  chat.Message
		want EffectKind
	}{
		{name: "own message", self: sam, msg: msg("m1", sam.UserID, t0), want: EffectNone},
		{name: "someone else", self: sam, msg: msg("m1", "other", t0), want: EffectNotify},
		{name: "help request to professional", self: priya, msg: help, want: EffectInterviewHelp},
		{name: "help request to student", self: chat.Identity{UserID: "stu-2", UserRole: chat.RoleStudent}, msg: help, want: EffectNotify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := newTestTimeline(tt.self)
			if got := apply(t, tl, chat.EventNewMessage, tt.msg).Kind; got != tt.want {
				t.Errorf("effect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEditAndDeletePatches(t *testing.T) {
	tl := newTestTimeline(sam)
	tl.Reset([]chat.Message{msg("m1", sam.UserID, t0), msg("m2", sam.UserID, t0.Add(time.Second))})

	editedAt := t0.Add(time.Minute)
	apply(t, tl, chat.EventMessageEdited, chat.MessageEditedPayload{MessageID: "m1", Text: "fixed", IsEdited: true, EditedAt: editedAt})
	apply(t, tl, chat.EventMessageEdited, chat.MessageEditedPayload{MessageID: "unknown", Text: "x"})

	entries := tl.Entries()
	if entries[0].Text != "fixed" || !entries[0].IsEdited || !entries[0].EditedAt.Equal(editedAt) {
		t.Errorf("Edit not applied in place: %+v", entries[0])
	}

	apply(t, tl, chat.EventMessageDeleted, chat.MessageDeletedPayload{MessageID: "m2"})
	once := tl.Entries()
	apply(t, tl, chat.EventMessageDeleted, chat.MessageDeletedPayload{MessageID: "m2"})
	if diff := cmp.Diff(once, tl.Entries()); diff != "" {
		t.Errorf("Second delete changed state (-first +second):\n%s", diff)
	}
	apply(t, tl, chat.EventMessageDeleted, chat.MessageDeletedPayload{MessageID: "unknown"})

	if diff := cmp.Diff([]string{"m1"}, ids(tl.Visible())); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
	if len(tl.Entries()) != 2 {
		t.Error("Deleted messages stay in Entries")
	}

	// Deleted is terminal locally as well.
	apply(t, tl, chat.EventMessageEdited, chat.MessageEditedPayload{MessageID: "m2", Text: "revived"})
	if e := tl.Entries()[1]; e.Text == "revived" {
		t.Error("Edit applied to a deleted message")
	}
}

func TestResetDiscardsState(t *testing.T) {
	tl := newTestTimeline(sam)
	tl.AddLocal(Draft{RoomID: "google", Text: "pending"})
	apply(t, tl, chat.EventPresenceUpdated, chat.PresencePayload{RoomID: "google", Users: []chat.PresenceUser{{UserID: "x"}}})

	tl.Reset([]chat.Message{msg("h1", "x", t0), msg("h1", "x", t0), msg("h2", "x", t0.Add(time.Second))})

	if diff := cmp.Diff([]string{"h1", "h2"}, ids(tl.Entries())); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if len(tl.Online()) != 0 {
		t.Error("Expected presence to be cleared")
	}
}

func TestResetRoomIgnoresOtherRooms(t *testing.T) {
	tl := newTestTimeline(sam)
	tl.ResetRoom("google", nil)

	other := msg("m1", "x", t0)
	other.RoomID = "meta"
	apply(t, tl, chat.EventNewMessage, other)
	apply(t, tl, chat.EventPresenceUpdated, chat.PresencePayload{RoomID: "meta", Users: []chat.PresenceUser{{UserID: "x"}}})

	if len(tl.Entries()) != 0 || len(tl.Online()) != 0 {
		t.Errorf("Events of another room were applied: %+v %+v", tl.Entries(), tl.Online())
	}
}

func TestExpirePendingAndLateEcho(t *testing.T) {
	tl := newTestTimeline(sam)
	local := tl.AddLocal(Draft{RoomID: "google", Text: "slow"})

	if n := tl.ExpirePending(local.Timestamp.Add(30 * time.Second)); n != 0 {
		t.Errorf("Expired %d entries before the TTL", n)
	}
	if n := tl.ExpirePending(local.Timestamp.Add(time.Minute)); n != 1 {
		t.Fatalf("Expected one expired entry, got %d", n)
	}
	if e := tl.Entries()[0]; e.Pending || !e.Failed {
		t.Errorf("Expected a failed entry, got %+v", e)
	}

	echo := local
	echo.ID = "m1"
	apply(t, tl, chat.EventNewMessage, echo)
	entries := tl.Entries()
	if len(entries) != 1 || entries[0].ID != "m1" || entries[0].Failed {
		t.Errorf("Late echo should replace the failed entry, got %+v", entries)
	}
}

func TestRejectedSendIsMarkedFailed(t *testing.T) {
	tl := newTestTimeline(sam)
	local := tl.AddLocal(Draft{RoomID: "google", Text: "nope"})

	eff := apply(t, tl, chat.EventError, chat.ErrorPayload{
		Event:       chat.EventSendMessage,
		Code:        chat.CodeForbidden,
		ClientToken: local.ClientToken,
	})
	if eff.Kind != EffectRejected || eff.Error == nil || eff.Error.Code != chat.CodeForbidden {
		t.Errorf("Unexpected effect %+v", eff)
	}
	if e := tl.Entries()[0]; !e.Failed {
		t.Errorf("Expected a failed entry, got %+v", e)
	}
}

func TestLocalReplyUsesLoadedTarget(t *testing.T) {
	tl := newTestTimeline(sam)
	tl.Reset([]chat.Message{msg("m1", "x", t0)})

	local := tl.AddLocal(Draft{RoomID: "google", Text: "+1", ReplyTo: &chat.ReplyTarget{MessageID: "m1"}})
	want := &chat.ReplyRef{MessageID: "m1", Text: "text m1", UserName: "x", UserID: "x"}
	if diff := cmp.Diff(want, local.ReplyTo); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestInterviewHelpNotification(t *testing.T) {
	tl := newTestTimeline(priya)
	eff := apply(t, tl, chat.EventInterviewHelp, chat.InterviewHelpPayload{
		Message:     msg("m1", sam.UserID, t0),
		CompanyName: "Google",
		AuthorName:  "Sam",
	})
	if eff.Kind != EffectInterviewHelp || eff.CompanyName != "Google" || eff.Message.ID != "m1" {
		t.Errorf("Unexpected effect %+v", eff)
	}
	if len(tl.Entries()) != 0 {
		t.Error("Notifications do not add timeline entries")
	}
}

func TestApplyRejectsMalformedPayload(t *testing.T) {
	tl := newTestTimeline(sam)
	_, err := tl.Apply(chat.Envelope{Event: chat.EventNewMessage, Data: []byte(`"not an object"`)})
	if err == nil {
		t.Error("Expected a decode error")
	}
}

func TestMergeKeepsLiveMessages(t *testing.T) {
	tl := newTestTimeline(priya)
	tl.ResetRoom("google", nil)

	// Broadcasts that arrived while the history request was in flight.
	apply(t, tl, chat.EventNewMessage, msg("m3", "stu-sam", t0.Add(3*time.Minute)))
	apply(t, tl, chat.EventNewMessage, msg("m4", "stu-sam", t0.Add(4*time.Minute)))

	tl.Merge([]chat.Message{
		msg("m1", "stu-sam", t0.Add(time.Minute)),
		msg("m2", "stu-sam", t0.Add(2*time.Minute)),
		msg("m3", "stu-sam", t0.Add(3*time.Minute)),
		{ID: "x1", RoomID: "meta", Text: "elsewhere", Timestamp: t0},
	})

	if diff := cmp.Diff([]string{"m1", "m2", "m3", "m4"}, ids(tl.Entries())); diff != "" {
		t.Errorf("Merged timeline mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeAppliesEarlyPatches(t *testing.T) {
	tl := newTestTimeline(priya)
	tl.ResetRoom("google", nil)

	editedAt := t0.Add(10 * time.Minute)
	apply(t, tl, chat.EventMessageEdited, chat.MessageEditedPayload{MessageID: "m1", Text: "fixed", IsEdited: true, EditedAt: editedAt})
	apply(t, tl, chat.EventMessageDeleted, chat.MessageDeletedPayload{MessageID: "m2"})

	tl.Merge([]chat.Message{
		msg("m1", "stu-sam", t0.Add(time.Minute)),
		msg("m2", "stu-sam", t0.Add(2*time.Minute)),
	})

	entries := tl.Entries()
	if diff := cmp.Diff([]string{"m1"}, ids(entries)); diff != "" {
		t.Fatalf("Deleted message came back from history (-want +got):\n%s", diff)
	}
	if e := entries[0]; e.Text != "fixed" || !e.IsEdited || !e.EditedAt.Equal(editedAt) {
		t.Errorf("Edit received before history was not applied: %+v", e)
	}
}

func TestMergeMatchesPendingEcho(t *testing.T) {
	tl := newTestTimeline(sam)
	tl.ResetRoom("google", nil)

	local := tl.AddLocal(Draft{RoomID: "google", Text: "hello"})
	stored := local
	stored.ID = "m1"
	tl.Merge([]chat.Message{stored})
	apply(t, tl, chat.EventNewMessage, stored)

	entries := tl.Entries()
	if len(entries) != 1 || entries[0].ID != "m1" || entries[0].Pending {
		t.Errorf("Expected one confirmed entry, got %+v", entries)
	}
}
