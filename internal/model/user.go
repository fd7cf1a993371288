package model

import "time"

type User struct {
	ID         int64      `json:"id"`
	Nickname   string     `json:"nickname"`
	AvatarURL  string     `json:"avatar_url"`
	IsActive   bool       `json:"is_active"`
	ArchivedAt *time.Time `json:"-"` // non-null = archived, may not authenticate
	CreatedAt  time.Time  `json:"created_at"`
}

// CanAuthenticate reports whether the user may open a socket. Archived
// or inactive users are refused at the handshake.
func (u *User) CanAuthenticate() bool {
	return u.IsActive && u.ArchivedAt == nil
}

// File is an uploaded object owned by a user. Only files owned by the
// sender may be referenced from file-like messages.
type File struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"-"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Extension string    `json:"extension"`
	CreatedAt time.Time `json:"created_at"`
}
