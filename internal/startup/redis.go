package startup

import (
	"context"
	"os"
	"time"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/presence"
)

// ConnectRedisWithRetry connects the presence registry to Redis with
// retries. logPrefix is prepended to log messages.
func ConnectRedisWithRetry(redisURL string, ttl, maxWait time.Duration, logPrefix string) *presence.RedisRegistry {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		registry, err := presence.NewRedis(ctx, redisURL, ttl)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return registry
	}
}
