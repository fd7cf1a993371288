package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// MessageKind discriminates message payloads. The client-sendable subset
// is accepted inbound; server kinds are only ever emitted by the server.
type MessageKind string

const (
	// Client-sendable kinds.
	KindText        MessageKind = "text"
	KindPicture     MessageKind = "picture"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindFile        MessageKind = "file"
	KindLocation    MessageKind = "location"
	KindShare       MessageKind = "share"
	KindTyping      MessageKind = "typing"
	KindStopTyping  MessageKind = "stop_typing"
	KindMessageRead MessageKind = "message_read"

	// Server-only kinds, never accepted inbound.
	KindError            MessageKind = "error"
	KindOnline           MessageKind = "online"
	KindOffline          MessageKind = "offline"
	KindJoin             MessageKind = "join"
	KindMessageSent      MessageKind = "message_sent"
	KindMessageNewUnread MessageKind = "message_new_unread"
)

// ClientSendable reports whether the kind may appear in an inbound frame.
func (k MessageKind) ClientSendable() bool {
	switch k {
	case KindText, KindPicture, KindVideo, KindAudio, KindFile,
		KindLocation, KindShare, KindTyping, KindStopTyping, KindMessageRead:
		return true
	}
	return false
}

// Ephemeral reports whether the kind is fanned out without persistence.
func (k MessageKind) Ephemeral() bool {
	return k == KindTyping || k == KindStopTyping || k == KindMessageRead
}

// FileLike reports whether the kind carries a sender-owned file reference.
func (k MessageKind) FileLike() bool {
	switch k {
	case KindPicture, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// SenderInfo is denormalised into every outbound envelope so that a
// subscriber never has to look the sender up.
type SenderInfo struct {
	ID       string `json:"id"`
	Avatar   string `json:"avatar,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// SenderOf builds the envelope sender record for a user.
func SenderOf(u *User) SenderInfo {
	return SenderInfo{
		ID:       strconv.FormatInt(u.ID, 10),
		Avatar:   u.AvatarURL,
		Nickname: u.Nickname,
	}
}

// GroupMessage is a persisted message in a group conversation. Once
// written, the row never changes.
type GroupMessage struct {
	ID        int64           `json:"id"`
	GroupID   int64           `json:"group_id"`
	SenderID  int64           `json:"sender_id"`
	Kind      MessageKind     `json:"kind"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// DialogMessage is a persisted message in a dialog. Only the Read flag
// may change after the write.
type DialogMessage struct {
	ID         int64           `json:"id"`
	DialogID   int64           `json:"dialog_id"`
	SenderID   int64           `json:"sender_id"`
	ReceiverID int64           `json:"receiver_id"`
	Kind       MessageKind     `json:"kind"`
	Content    json.RawMessage `json:"content"`
	Read       bool            `json:"read"`
	CreatedAt  time.Time       `json:"created_at"`
}
