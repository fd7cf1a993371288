package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
)

type GroupRepository struct {
	pool *pgxpool.Pool
}

func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*model.Group, error) {
	defer logger.DeferLogDuration("group.GetByID", time.Now())()
	g := &model.Group{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(avatar_url,''), created_at FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.AvatarURL, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetByID: %w", err)
	}
	return g, nil
}

// GetMembership returns the enabled membership of user in group, or
// ErrNotFound when the user is not an enabled member.
func (r *GroupRepository) GetMembership(ctx context.Context, userID, groupID int64) (*model.Membership, error) {
	defer logger.DeferLogDuration("group.GetMembership", time.Now())()
	m := &model.Membership{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, group_id, user_id, status, joined_at
		 FROM group_members
		 WHERE user_id = $1 AND group_id = $2 AND status = 'enable'`,
		userID, groupID,
	).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Status, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GetMembership: %w", err)
	}
	return m, nil
}

// GroupIDsOf returns the ids of groups where the user is an enabled
// member. Used to seed the presence group set on first connect.
func (r *GroupRepository) GroupIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	defer logger.DeferLogDuration("group.GroupIDsOf", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT group_id FROM group_members WHERE user_id = $1 AND status = 'enable'`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("groupRepo.GroupIDsOf query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("groupRepo.GroupIDsOf scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("groupRepo.GroupIDsOf rows: %w", err)
	}
	return ids, nil
}
