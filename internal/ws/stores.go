package ws

import (
	"context"
	"encoding/json"

	"github.com/chatcenter/chatcenter/internal/model"
)

// The hub talks to persistence through these seams; the pgx
// repositories satisfy them in production, testify mocks in tests.

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type GroupStore interface {
	GetByID(ctx context.Context, id int64) (*model.Group, error)
	GetMembership(ctx context.Context, userID, groupID int64) (*model.Membership, error)
	GroupIDsOf(ctx context.Context, userID int64) ([]int64, error)
}

type DialogStore interface {
	Get(ctx context.Context, userA, userB int64) (*model.Dialog, error)
}

type MessageStore interface {
	CreateGroupMessage(ctx context.Context, groupID, senderID int64, kind model.MessageKind, content json.RawMessage) (*model.GroupMessage, error)
	CreateDialogMessage(ctx context.Context, dialogID, senderID, receiverID int64, kind model.MessageKind, content json.RawMessage) (*model.DialogMessage, error)
	MarkRead(ctx context.Context, dialogID, senderID, uptoID int64) error
}

type FileStore interface {
	GetUserFile(ctx context.Context, userID, fileID int64) (*model.File, error)
}

type SystemInfoStore interface {
	GetSystemSender(ctx context.Context) model.SenderInfo
}
