package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
	"github.com/chatcenter/chatcenter/internal/repository"
	"github.com/chatcenter/chatcenter/internal/service"
)

// Frame is the client-to-server wire shape.
type Frame struct {
	ChatType    model.ChatType    `json:"chat_type"`
	MessageType model.MessageKind `json:"message_type"`
	ReceiverID  int64             `json:"receiver_id,omitempty"`
	Content     json.RawMessage   `json:"content,omitempty"`
}

// inbound is a validated frame plus everything the router resolved for
// it, handed as a unit to the type handler.
type inbound struct {
	frame    Frame
	content  any
	receiver *model.User
	group    *model.Group
	dialog   *model.Dialog
}

type handlerFunc func(ctx context.Context, c *Client, in *inbound) error

// route validates one raw frame and dispatches it. Validation failures
// are answered with an error envelope on the originating socket only;
// the socket stays open either way.
func (c *Client) route(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.replyError(service.UnSupportedType("消息"), frame)
		return
	}

	in, serr := c.hub.resolve(ctx, c, frame)
	if serr != nil {
		c.replyError(serr, frame)
		return
	}

	handler := c.hub.handlers[frame.MessageType]
	if err := handler(ctx, c, in); err != nil {
		var se *service.Error
		if errors.As(err, &se) {
			c.replyError(se, frame)
			return
		}
		// Unexpected failure: log and drop, never surface internals.
		logger.Errorf("ws handle %s user=%d: %v", frame.MessageType, c.user.ID, err)
	}
}

// resolve runs the frame-level checks in a fixed order: chat type,
// message type, receiver existence, relationship, then content.
func (h *Hub) resolve(ctx context.Context, c *Client, frame Frame) (*inbound, *service.Error) {
	if !frame.ChatType.Valid() {
		return nil, service.UnSupportedType("chatType")
	}
	if !frame.MessageType.ClientSendable() {
		return nil, service.UnSupportedType("messageType")
	}

	in := &inbound{frame: frame}
	switch frame.ChatType {
	case model.ChatTypeDialog:
		if frame.ReceiverID == c.user.ID {
			return nil, service.ForbiddenAction("给自己发送消息")
		}
		receiver, err := h.stores.Users.GetByID(ctx, frame.ReceiverID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, service.ReceiverNotExists()
			}
			logger.Errorf("ws resolve receiver user=%d: %v", frame.ReceiverID, err)
			return nil, service.ReceiverNotExists()
		}
		in.receiver = receiver
		dialog, err := h.stores.Dialogs.Get(ctx, c.user.ID, frame.ReceiverID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, service.RelationShipNotExists()
			}
			logger.Errorf("ws resolve dialog users=%d,%d: %v", c.user.ID, frame.ReceiverID, err)
			return nil, service.RelationShipNotExists()
		}
		in.dialog = dialog
	case model.ChatTypeGroup:
		group, err := h.stores.Groups.GetByID(ctx, frame.ReceiverID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, service.ReceiverNotExists()
			}
			logger.Errorf("ws resolve group id=%d: %v", frame.ReceiverID, err)
			return nil, service.ReceiverNotExists()
		}
		in.group = group
		if _, err := h.stores.Groups.GetMembership(ctx, c.user.ID, frame.ReceiverID); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logger.Errorf("ws resolve membership user=%d group=%d: %v", c.user.ID, frame.ReceiverID, err)
			}
			return nil, service.RelationShipNotExists()
		}
	case model.ChatTypeSystemCenter:
		// No relationship to resolve; handlers treat it as reserved.
	}

	if model.RequiresContent(frame.MessageType) && len(frame.Content) == 0 {
		return nil, service.UnSupportedType("消息")
	}
	content, err := model.DecodeContent(frame.MessageType, frame.Content)
	if err != nil {
		return nil, service.UnSupportedType("消息")
	}
	in.content = content
	return in, nil
}

// replyError sends an error envelope back to this socket only.
func (c *Client) replyError(serr *service.Error, frame Frame) {
	env := ErrorEnvelope(serr, frame.ChatType, c.sender, c.addr)
	c.sendEnvelope(env)
}
