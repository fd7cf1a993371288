package ws

import (
	"encoding/json"
	"time"

	"github.com/chatcenter/chatcenter/internal/model"
	"github.com/chatcenter/chatcenter/internal/service"
)

// Envelope is the single outbound frame shape. Context carries the
// group key the frame was published on, or the sender's transport
// address for point-to-point delivery.
type Envelope struct {
	Code        service.Code      `json:"code"`
	MessageType model.MessageKind `json:"message_type"`
	ChatType    model.ChatType    `json:"chat_type"`
	Sender      model.SenderInfo  `json:"sender"`
	Context     string            `json:"context"`
	Time        string            `json:"time"`
	Content     any               `json:"content"`
}

// MessageSentContent acknowledges a persisted write to the sender and
// carries the unread advance to recipients.
type MessageSentContent struct {
	ChatInstanceID int64 `json:"chat_instance_id"`
	MessageID      int64 `json:"message_id"`
}

// NewEnvelope builds a success envelope.
func NewEnvelope(kind model.MessageKind, chatType model.ChatType, sender model.SenderInfo, context string, t time.Time, content any) Envelope {
	return Envelope{
		Code:        service.CodeSuccess,
		MessageType: kind,
		ChatType:    chatType,
		Sender:      sender,
		Context:     context,
		Time:        t.UTC().Format(time.RFC3339),
		Content:     content,
	}
}

// ErrorEnvelope converts a service error into an error frame for the
// originating socket.
func ErrorEnvelope(serr *service.Error, chatType model.ChatType, sender model.SenderInfo, context string) Envelope {
	if !chatType.Valid() {
		chatType = model.ChatTypeSystemCenter
	}
	return Envelope{
		Code:        serr.Code,
		MessageType: model.KindError,
		ChatType:    chatType,
		Sender:      sender,
		Context:     context,
		Time:        time.Now().UTC().Format(time.RFC3339),
		Content:     serr.Message,
	}
}

// Encode serializes the envelope as UTF-8 JSON for a binary frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
