package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Tyrowin/companychat/internal/chat"
)

const testYAML = `
companies:
  - id: google
    name: Google
  - id: meta
    name: Meta
users:
  - id: pro-1
    name: Priya Patel
    email: Priya@Google.com
    role: professional
    company: google
    token: tok-priya
  - id: pro-2
    name: Mark
    role: professional
    company: Meta
  - id: stu-1
    name: Sam
    email: sam@example.edu
    role: student
    token: tok-sam
`

func loadTest(t *testing.T) *Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	if err := os.WriteFile(path, []byte(testYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}

func TestLoadEmptyPath(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := d.User(context.Background(), "anyone"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("expected empty directory, got err %v", err)
	}
}

func TestLoadRejectsUserWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("users:\n  - name: Nobody\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a user without id")
	}
}

func TestCompany(t *testing.T) {
	ctx := context.Background()
	d := loadTest(t)

	name, err := d.Company(ctx, " google ")
	if err != nil || name != "Google" {
		t.Errorf("Company(google) = %q, %v", name, err)
	}
	if _, err := d.Company(ctx, "unknown"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Company(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestUser(t *testing.T) {
	ctx := context.Background()
	d := loadTest(t)

	tests := []struct {
		key    string
		wantID string
	}{
		{key: "pro-1", wantID: "pro-1"},
		{key: "priya@google.com", wantID: "pro-1"},
		{key: "SAM@example.edu", wantID: "stu-1"},
	}
	for _, tt := range tests {
		u, err := d.User(ctx, tt.key)
		if err != nil {
			t.Errorf("User(%q): %v", tt.key, err)
			continue
		}
		if u.ID != tt.wantID {
			t.Errorf("User(%q) = %s, want %s", tt.key, u.ID, tt.wantID)
		}
	}
}

func TestKnownUsers(t *testing.T) {
	ctx := context.Background()
	d := loadTest(t)

	got, err := d.KnownUsers(ctx, "google")
	if err != nil {
		t.Fatal(err)
	}
	want := []chat.Mention{
		{UserID: "pro-1", UserName: "Priya Patel", UserEmail: "Priya@Google.com"},
		{UserID: "stu-1", UserName: "Sam", UserEmail: "sam@example.edu"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("KnownUsers mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	d := loadTest(t)

	id, err := d.Authenticate(ctx, "tok-sam")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := chat.Identity{UserID: "stu-1", UserName: "Sam", UserRole: chat.RoleStudent, Email: "sam@example.edu"}
	if diff := cmp.Diff(want, id); diff != "" {
		t.Errorf("identity mismatch (-want +got):\n%s", diff)
	}

	for _, token := range []string{"", "bogus"} {
		if _, err := d.Authenticate(ctx, token); !errors.Is(err, chat.ErrForbidden) {
			t.Errorf("Authenticate(%q) err = %v, want ErrForbidden", token, err)
		}
	}
}
