package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
)

const systemInfoKey = "system_info"

// defaultSystemSender is used when the system_info config row is
// absent; a missing row must not prevent the service from starting.
var defaultSystemSender = model.SenderInfo{ID: "0", Nickname: "系统消息"}

type AppConfigRepository struct {
	pool        *pgxpool.Pool
	fallbackLog sync.Once
}

func NewAppConfigRepository(pool *pgxpool.Pool) *AppConfigRepository {
	return &AppConfigRepository{pool: pool}
}

// GetSystemSender reads the synthetic system sender from the
// system_info config row, falling back to hard-coded defaults. The
// fallback is logged once.
func (r *AppConfigRepository) GetSystemSender(ctx context.Context) model.SenderInfo {
	defer logger.DeferLogDuration("appconfig.GetSystemSender", time.Now())()
	var s model.SenderInfo
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM app_config WHERE key = $1`, systemInfoKey,
	).Scan(&s)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			logger.Errorf("appconfig.GetSystemSender: %v", err)
		}
		r.fallbackLog.Do(func() {
			logger.Infof("appconfig: %s row absent, using default system sender", systemInfoKey)
		})
		return defaultSystemSender
	}
	if s.ID == "" {
		return defaultSystemSender
	}
	return s
}
