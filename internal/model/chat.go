package model

import "time"

// ChatType discriminates the three conversation kinds.
type ChatType string

const (
	ChatTypeSystemCenter ChatType = "SystemCenter"
	ChatTypeGroup        ChatType = "Group"
	ChatTypeDialog       ChatType = "Dialog"
)

// Valid reports whether t is a known chat type.
func (t ChatType) Valid() bool {
	switch t {
	case ChatTypeSystemCenter, ChatTypeGroup, ChatTypeDialog:
		return true
	}
	return false
}

// Device is the closed set of socket device tags. At most one live
// socket per (user, device) pair exists fleet-wide.
type Device string

const (
	DeviceMobile Device = "mobile"
	DeviceWeb    Device = "web"
)

// Devices lists all device tags, in lookup order for dialog fan-out.
var Devices = []Device{DeviceMobile, DeviceWeb}

// Valid reports whether d is a known device tag.
func (d Device) Valid() bool {
	return d == DeviceMobile || d == DeviceWeb
}

type MemberStatus string

const (
	MemberStatusEnable  MemberStatus = "enable"
	MemberStatusDisable MemberStatus = "disable"
)

type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership ties a user to a group. At most one row per (user, group).
type Membership struct {
	ID       int64        `json:"id"`
	GroupID  int64        `json:"group_id"`
	UserID   int64        `json:"user_id"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joined_at"`
}

// Dialog is the symmetric direct conversation between exactly two
// users. The (left, right) pair is unique in both orderings.
type Dialog struct {
	ID          int64        `json:"id"`
	LeftUserID  int64        `json:"left_user_id"`
	RightUserID int64        `json:"right_user_id"`
	Status      MemberStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Other returns the counterparty of userID in the dialog.
func (d *Dialog) Other(userID int64) int64 {
	if d.LeftUserID == userID {
		return d.RightUserID
	}
	return d.LeftUserID
}
