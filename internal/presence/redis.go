package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatcenter/chatcenter/internal/model"
)

// compareAndDelete removes the key only when it still holds our value.
var compareAndDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// compareAndExpire refreshes the TTL only when the key still holds our value.
var compareAndExpire = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// RedisRegistry is the production Registry shared across all nodes.
type RedisRegistry struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 65 * time.Second
	}
	return &RedisRegistry{cli: cli, ttl: ttl}, nil
}

// Client exposes the underlying connection for the broker, which shares it.
func (r *RedisRegistry) Client() *redis.Client { return r.cli }

func (r *RedisRegistry) Close() error { return r.cli.Close() }

func (r *RedisRegistry) Register(ctx context.Context, userID int64, device model.Device, addr string) error {
	ok, err := r.cli.SetNX(ctx, connectionKey(userID, device), addr, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("presence.Register: %w", err)
	}
	if !ok {
		return ErrDeviceBusy
	}
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, userID int64, device model.Device, addr string) error {
	err := compareAndDelete.Run(ctx, r.cli, []string{connectionKey(userID, device)}, addr).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence.Unregister: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Refresh(ctx context.Context, userID int64, device model.Device, addr string) error {
	err := compareAndExpire.Run(ctx, r.cli,
		[]string{connectionKey(userID, device)}, addr, r.ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence.Refresh: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, userID int64, device model.Device) (string, error) {
	val, err := r.cli.Get(ctx, connectionKey(userID, device)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("presence.Lookup: %w", err)
	}
	return val, nil
}

func (r *RedisRegistry) SetOnline(ctx context.Context, userID int64) error {
	if err := r.cli.Set(ctx, onlineKey(userID), "1", 0).Err(); err != nil {
		return fmt.Errorf("presence.SetOnline: %w", err)
	}
	return nil
}

func (r *RedisRegistry) ClearOnline(ctx context.Context, userID int64) error {
	if err := r.cli.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return fmt.Errorf("presence.ClearOnline: %w", err)
	}
	return nil
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := r.cli.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence.IsOnline: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	members, err := r.cli.SMembers(ctx, groupsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence.GroupsOf: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisRegistry) SeedGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(groupIDs))
	for _, id := range groupIDs {
		vals = append(vals, strconv.FormatInt(id, 10))
	}
	if err := r.cli.SAdd(ctx, groupsKey(userID), vals...).Err(); err != nil {
		return fmt.Errorf("presence.SeedGroups: %w", err)
	}
	return nil
}

func (r *RedisRegistry) AddGroup(ctx context.Context, userID int64, groupID int64) error {
	if err := r.cli.SAdd(ctx, groupsKey(userID), strconv.FormatInt(groupID, 10)).Err(); err != nil {
		return fmt.Errorf("presence.AddGroup: %w", err)
	}
	return nil
}

func (r *RedisRegistry) RemoveGroup(ctx context.Context, userID int64, groupID int64) error {
	if err := r.cli.SRem(ctx, groupsKey(userID), strconv.FormatInt(groupID, 10)).Err(); err != nil {
		return fmt.Errorf("presence.RemoveGroup: %w", err)
	}
	return nil
}
