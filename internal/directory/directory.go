// Package directory resolves users, companies and connection tokens for
// the chat core. Its contents are loaded from a YAML file and are read-only
// afterwards.
package directory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/companychat/internal/chat"
)

// User is a directory entry. Users without a company are known in every
// room; users with one are known only in that company's room.
type User struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Email       string    `yaml:"email"`
	Role        chat.Role `yaml:"role"`
	CompanyName string    `yaml:"company"`
	Token       string    `yaml:"token"`
}

// Identity returns the connection identity of u.
func (u User) Identity() chat.Identity {
	return chat.Identity{UserID: u.ID, UserName: u.Name, UserRole: u.Role, Email: u.Email}
}

// Company maps a room key to a display name.
type Company struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type file struct {
	Companies []Company `yaml:"companies"`
	Users     []User    `yaml:"users"`
}

// Directory is an in-memory user and company directory.
type Directory struct {
	companies map[string]Company
	users     []User
	byID      map[string]int
	byEmail   map[string]int
	byToken   map[string]int
}

// New builds a directory from the given companies and users.
func New(companies []Company, users []User) *Directory {
	d := &Directory{
		companies: make(map[string]Company, len(companies)),
		users:     make([]User, 0, len(users)),
		byID:      make(map[string]int, len(users)),
		byEmail:   make(map[string]int, len(users)),
		byToken:   make(map[string]int),
	}
	for _, c := range companies {
		d.companies[chat.NormalizeRoomID(c.ID)] = c
	}
	for _, u := range users {
		i := len(d.users)
		d.users = append(d.users, u)
		d.byID[u.ID] = i
		if u.Email != "" {
			d.byEmail[strings.ToLower(u.Email)] = i
		}
		if u.Token != "" {
			d.byToken[u.Token] = i
		}
	}
	return d
}

// Load reads a directory from a YAML file. An empty path yields an empty
// directory.
func Load(path string) (*Directory, error) {
	if path == "" {
		return New(nil, nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("parse directory: user %d has no id", i)
		}
	}
	return New(f.Companies, f.Users), nil
}

// Company returns the display name of the company owning roomID.
func (d *Directory) Company(_ context.Context, roomID string) (string, error) {
	c, ok := d.companies[chat.NormalizeRoomID(roomID)]
	if !ok {
		return "", fmt.Errorf("company %q: %w", roomID, chat.ErrNotFound)
	}
	return c.Name, nil
}

// User looks a user up by id, falling back to e-mail.
func (d *Directory) User(_ context.Context, idOrEmail string) (User, error) {
	if i, ok := d.byID[idOrEmail]; ok {
		return d.users[i], nil
	}
	if i, ok := d.byEmail[strings.ToLower(idOrEmail)]; ok {
		return d.users[i], nil
	}
	return User{}, fmt.Errorf("user %q: %w", idOrEmail, chat.ErrNotFound)
}

// KnownUsers returns the mention candidates of roomID.
func (d *Directory) KnownUsers(ctx context.Context, roomID string) ([]chat.Mention, error) {
	company, err := d.Company(ctx, roomID)
	if err != nil {
		company = chat.NormalizeRoomID(roomID)
	}
	out := make([]chat.Mention, 0, len(d.users))
	for _, u := range d.users {
		if u.CompanyName != "" && !strings.EqualFold(u.CompanyName, company) {
			continue
		}
		out = append(out, chat.Mention{UserID: u.ID, UserName: u.Name, UserEmail: u.Email})
	}
	return out, nil
}

// Authenticate resolves a connection token to the identity it belongs to.
func (d *Directory) Authenticate(_ context.Context, token string) (chat.Identity, error) {
	i, ok := d.byToken[token]
	if token == "" || !ok {
		return chat.Identity{}, fmt.Errorf("authenticate: %w", chat.ErrForbidden)
	}
	return d.users[i].Identity(), nil
}
