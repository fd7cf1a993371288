package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcenter/chatcenter/internal/broker"
	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
	"github.com/chatcenter/chatcenter/internal/service"
)

// handleContentMessage persists text, location and share messages, fans
// the envelope out to the conversation and acknowledges the sender.
func (h *Hub) handleContentMessage(ctx context.Context, c *Client, in *inbound) error {
	switch in.frame.ChatType {
	case model.ChatTypeGroup:
		msg, err := h.stores.Messages.CreateGroupMessage(ctx, in.group.ID, c.user.ID, in.frame.MessageType, in.frame.Content)
		if err != nil {
			return fmt.Errorf("save group message: %w", err)
		}
		key := broker.GroupKey(in.group.ID)
		env := NewEnvelope(in.frame.MessageType, model.ChatTypeGroup, c.sender, key, msg.CreatedAt, in.content)
		if err := h.publishEnvelope(ctx, key, env); err != nil {
			return err
		}
		c.sendEnvelope(NewEnvelope(model.KindMessageSent, model.ChatTypeGroup, c.sender, key, msg.CreatedAt, MessageSentContent{
			ChatInstanceID: in.group.ID,
			MessageID:      msg.ID,
		}))
	case model.ChatTypeDialog:
		msg, err := h.stores.Messages.CreateDialogMessage(ctx, in.dialog.ID, c.user.ID, in.receiver.ID, in.frame.MessageType, in.frame.Content)
		if err != nil {
			return fmt.Errorf("save dialog message: %w", err)
		}
		env := NewEnvelope(in.frame.MessageType, model.ChatTypeDialog, c.sender, c.addr, msg.CreatedAt, in.content)
		h.sendToUser(ctx, in.receiver.ID, env)
		h.sendToUser(ctx, in.receiver.ID, NewEnvelope(model.KindMessageNewUnread, model.ChatTypeDialog, c.sender, c.addr, msg.CreatedAt, MessageSentContent{
			ChatInstanceID: in.dialog.ID,
			MessageID:      msg.ID,
		}))
		c.sendEnvelope(NewEnvelope(model.KindMessageSent, model.ChatTypeDialog, c.sender, c.addr, msg.CreatedAt, MessageSentContent{
			ChatInstanceID: in.dialog.ID,
			MessageID:      msg.ID,
		}))
	case model.ChatTypeSystemCenter:
		// Reserved: clients cannot post into the system channel yet.
	}
	return nil
}

// handleFileMessage checks the referenced upload before treating the
// frame like any other content message.
func (h *Hub) handleFileMessage(ctx context.Context, c *Client, in *inbound) error {
	fc, ok := in.content.(*model.FileContent)
	if !ok {
		return service.UnSupportedType("消息")
	}
	file, err := h.stores.Files.GetUserFile(ctx, c.user.ID, fc.ID)
	if err != nil || file.Size <= 0 {
		return service.FileDoesNotExist()
	}
	return h.handleContentMessage(ctx, c, in)
}

// handleEphemeral fans out typing notifications without persisting
// them. They only make sense inside a dialog.
func (h *Hub) handleEphemeral(ctx context.Context, c *Client, in *inbound) error {
	if in.frame.ChatType != model.ChatTypeDialog {
		return nil
	}
	env := NewEnvelope(in.frame.MessageType, model.ChatTypeDialog, c.sender, c.addr, time.Now(), nil)
	h.sendToUser(ctx, in.receiver.ID, env)
	return nil
}

// handleMessageRead advances the read watermark of a dialog and tells
// the counterparty so their read indicators update.
func (h *Hub) handleMessageRead(ctx context.Context, c *Client, in *inbound) error {
	if in.frame.ChatType != model.ChatTypeDialog {
		return nil
	}
	rc, ok := in.content.(*model.ReadContent)
	if !ok {
		return service.UnSupportedType("消息")
	}
	// The reader marks the counterparty's messages, never their own.
	if err := h.stores.Messages.MarkRead(ctx, in.dialog.ID, in.receiver.ID, rc.MessageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	env := NewEnvelope(model.KindMessageRead, model.ChatTypeDialog, c.sender, c.addr, time.Now(), rc)
	h.sendToUser(ctx, in.receiver.ID, env)
	return nil
}

func (h *Hub) publishEnvelope(ctx context.Context, key string, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := h.broker.Publish(ctx, key, data); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// sendToUser delivers an envelope point-to-point to every live device
// of a user. An absent slot is skipped silently, the message is already
// durable for offline pickup.
func (h *Hub) sendToUser(ctx context.Context, userID int64, env Envelope) {
	data, err := env.Encode()
	if err != nil {
		logger.Errorf("ws encode %s for user=%d: %v", env.MessageType, userID, err)
		return
	}
	for _, device := range model.Devices {
		addr, err := h.registry.Lookup(ctx, userID, device)
		if err != nil {
			logger.Errorf("ws lookup user=%d device=%s: %v", userID, device, err)
			continue
		}
		if addr == "" {
			continue
		}
		if err := h.broker.Publish(ctx, addr, data); err != nil {
			logger.Errorf("ws deliver to user=%d device=%s: %v", userID, device, err)
		}
	}
}
