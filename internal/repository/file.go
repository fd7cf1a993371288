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

type FileRepository struct {
	pool *pgxpool.Pool
}

func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// GetUserFile returns the file only when it is owned by userID;
// otherwise ErrNotFound, so ownership violations and absent files are
// indistinguishable to the caller.
func (r *FileRepository) GetUserFile(ctx context.Context, userID, fileID int64) (*model.File, error) {
	defer logger.DeferLogDuration("file.GetUserFile", time.Now())()
	f := &model.File{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, url, size, COALESCE(extension,''), created_at
		 FROM files WHERE id = $1 AND owner_id = $2`,
		fileID, userID,
	).Scan(&f.ID, &f.OwnerID, &f.URL, &f.Size, &f.Extension, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fileRepo.GetUserFile: %w", err)
	}
	return f, nil
}
