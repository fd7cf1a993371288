package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Content shapes are tagged variants discriminated by MessageKind.
// DecodeContent rejects frames whose content does not match the kind.

var ErrBadContent = errors.New("content does not match message kind")

// SegmentTag tags a rich-text segment inside a text message.
type SegmentTag string

const (
	SegmentTitle SegmentTag = "title"
	SegmentText  SegmentTag = "text"
	SegmentLink  SegmentTag = "link"
	SegmentAt    SegmentTag = "at"
	SegmentImage SegmentTag = "image"
	SegmentEmoji SegmentTag = "emoji"
)

func (t SegmentTag) valid() bool {
	switch t {
	case SegmentTitle, SegmentText, SegmentLink, SegmentAt, SegmentImage, SegmentEmoji:
		return true
	}
	return false
}

// AtUser identifies a mentioned user inside an "at" segment.
type AtUser struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname,omitempty"`
}

// TextSegment is one ordered piece of a rich-text message. Label is
// meaningful for link segments only, User for at segments only.
type TextSegment struct {
	Tag   SegmentTag `json:"tag"`
	Value string     `json:"value,omitempty"`
	Label string     `json:"label,omitempty"`
	User  *AtUser    `json:"user,omitempty"`
}

// TextContent is the ordered sequence of segments of a text message.
type TextContent []TextSegment

func (c TextContent) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: empty text", ErrBadContent)
	}
	for i, s := range c {
		if !s.Tag.valid() {
			return fmt.Errorf("%w: segment %d tag %q", ErrBadContent, i, s.Tag)
		}
		switch s.Tag {
		case SegmentAt:
			if s.User == nil || s.User.ID <= 0 {
				return fmt.Errorf("%w: segment %d missing user", ErrBadContent, i)
			}
		default:
			if s.Value == "" {
				return fmt.Errorf("%w: segment %d missing value", ErrBadContent, i)
			}
		}
	}
	return nil
}

// FileContent describes picture, video, audio and file messages. The
// referenced file must be owned by the sender and have positive size.
type FileContent struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Label     string `json:"label,omitempty"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
}

func (c *FileContent) Validate() error {
	if c.ID <= 0 {
		return fmt.Errorf("%w: file id", ErrBadContent)
	}
	return nil
}

// LocationContent carries a geographic point.
type LocationContent struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

func (c *LocationContent) Validate() error {
	if c.Longitude < -180 || c.Longitude > 180 || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: coordinates out of range", ErrBadContent)
	}
	return nil
}

// ShareContent forwards a user card together with the conversation kind
// it was shared from.
type ShareContent struct {
	UserID   int64    `json:"id"`
	ChatType ChatType `json:"chat_type"`
}

func (c *ShareContent) Validate() error {
	if c.UserID <= 0 {
		return fmt.Errorf("%w: share user id", ErrBadContent)
	}
	if !c.ChatType.Valid() {
		return fmt.Errorf("%w: share chat type %q", ErrBadContent, c.ChatType)
	}
	return nil
}

// ReadContent asks to mark everything up to MessageID in a dialog read.
type ReadContent struct {
	ChatInstanceID int64 `json:"chat_instance_id"`
	MessageID      int64 `json:"message_id"`
}

func (c *ReadContent) Validate() error {
	if c.ChatInstanceID <= 0 || c.MessageID <= 0 {
		return fmt.Errorf("%w: read marker ids", ErrBadContent)
	}
	return nil
}

// RequiresContent reports whether the kind must carry a content payload.
func RequiresContent(k MessageKind) bool {
	return k != KindTyping && k != KindStopTyping
}

// DecodeContent parses and validates raw content against the kind.
// Returns the typed variant, or ErrBadContent-wrapped failures.
func DecodeContent(kind MessageKind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		if RequiresContent(kind) {
			return nil, fmt.Errorf("%w: missing content", ErrBadContent)
		}
		return nil, nil
	}
	switch kind {
	case KindText:
		var c TextContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	case KindPicture, KindVideo, KindAudio, KindFile:
		var c FileContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &c, nil
	case KindLocation:
		var c LocationContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &c, nil
	case KindShare:
		var c ShareContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &c, nil
	case KindMessageRead:
		var c ReadContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContent, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &c, nil
	case KindTyping, KindStopTyping:
		// Transport-only kinds ignore whatever content they carry.
		return nil, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrBadContent, kind)
}
