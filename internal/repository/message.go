package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
)

type MessageRepository struct {
	pool    *pgxpool.Pool
	limiter *WriteLimiter
}

func NewMessageRepository(pool *pgxpool.Pool, limiter *WriteLimiter) *MessageRepository {
	return &MessageRepository{pool: pool, limiter: limiter}
}

// CreateGroupMessage persists a message in a group conversation.
func (r *MessageRepository) CreateGroupMessage(ctx context.Context, groupID, senderID int64, kind model.MessageKind, content json.RawMessage) (*model.GroupMessage, error) {
	defer logger.DeferLogDuration("msg.CreateGroupMessage", time.Now())()
	if err := r.limiter.acquire(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.CreateGroupMessage acquire: %w", err)
	}
	defer r.limiter.release()

	m := &model.GroupMessage{
		GroupID:   groupID,
		SenderID:  senderID,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO group_messages (group_id, sender_id, kind, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		m.GroupID, m.SenderID, m.Kind, m.Content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.CreateGroupMessage: %w", err)
	}
	return m, nil
}

// CreateDialogMessage persists a dialog message, unread.
func (r *MessageRepository) CreateDialogMessage(ctx context.Context, dialogID, senderID, receiverID int64, kind model.MessageKind, content json.RawMessage) (*model.DialogMessage, error) {
	defer logger.DeferLogDuration("msg.CreateDialogMessage", time.Now())()
	if err := r.limiter.acquire(ctx); err != nil {
		return nil, fmt.Errorf("msgRepo.CreateDialogMessage acquire: %w", err)
	}
	defer r.limiter.release()

	m := &model.DialogMessage{
		DialogID:   dialogID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       kind,
		Content:    content,
		Read:       false,
		CreatedAt:  time.Now().UTC(),
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO dialog_messages (dialog_id, sender_id, receiver_id, kind, content, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 RETURNING id`,
		m.DialogID, m.SenderID, m.ReceiverID, m.Kind, m.Content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.CreateDialogMessage: %w", err)
	}
	return m, nil
}

// MarkRead flips the read flag on every unread message from senderID in
// the dialog with id at most uptoID. Messages after uptoID stay untouched.
func (r *MessageRepository) MarkRead(ctx context.Context, dialogID, senderID, uptoID int64) error {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	if err := r.limiter.acquire(ctx); err != nil {
		return fmt.Errorf("msgRepo.MarkRead acquire: %w", err)
	}
	defer r.limiter.release()

	_, err := r.pool.Exec(ctx,
		`UPDATE dialog_messages SET read = true
		 WHERE dialog_id = $1 AND sender_id = $2 AND id <= $3 AND read = false`,
		dialogID, senderID, uptoID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}
