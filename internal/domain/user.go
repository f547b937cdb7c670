// Package domain holds the entities shared by the ledger, submission and moderation services.
package domain

import "time"

// User represents an application account stored in the database.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Coins        int64     `json:"coins"`
	IsAdmin      bool      `json:"isAdmin"`
	TelegramID   *int64    `json:"telegramId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the authenticated caller of an operation. The zero value is anonymous.
type Identity struct {
	UserID  int64  `json:"userId"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// Authenticated reports whether the identity belongs to a user.
func (i Identity) Authenticated() bool {
	return i.UserID > 0
}

// IdentityOf derives the identity that acts on behalf of u.
func IdentityOf(u *User) Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{UserID: u.ID, Name: u.Name, IsAdmin: u.IsAdmin}
}
