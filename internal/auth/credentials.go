package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// DefaultUserID owns everything created through the single shared password.
const DefaultUserID = "default"

// PasswordBook maps passwords to users for the password login.
type PasswordBook struct {
	entries []passwordEntry
}

type passwordEntry struct {
	userID   string
	password []byte
}

// NewPasswordBook builds a book from a shared password (owned by
// DefaultUserID) and a user->password map. Empty passwords are skipped.
func NewPasswordBook(shared string, users map[string]string) *PasswordBook {
	b := &PasswordBook{}
	if shared != "" {
		b.entries = append(b.entries, passwordEntry{userID: DefaultUserID, password: []byte(shared)})
	}
	for user, pw := range users {
		if user == "" || pw == "" {
			continue
		}
		b.entries = append(b.entries, passwordEntry{userID: user, password: []byte(pw)})
	}
	return b
}

// Enabled reports whether any password is configured.
func (b *PasswordBook) Enabled() bool {
	return len(b.entries) > 0
}

// Login returns the user owning password. Every entry is compared, in
// constant time, even after a match.
func (b *PasswordBook) Login(password string) (string, error) {
	userID := ""
	for _, e := range b.entries {
		if subtle.ConstantTimeCompare(e.password, []byte(password)) == 1 && userID == "" {
			userID = e.userID
		}
	}
	if userID == "" {
		return "", ErrInvalidCredentials
	}
	return userID, nil
}
