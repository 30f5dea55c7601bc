// Package presence records when users were last active, for @here mentions.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-plugin/internal/repositories"
)

const (
	presenceKey = "chat:presence"
	retention   = time.Hour
)

// Redis keeps last-seen timestamps in a sorted set scored by unix nanos.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{cli: cli}, nil
}

// Touch marks the user active at the given time and trims entries older
// than the retention window.
func (r *Redis) Touch(ctx context.Context, userID int, at time.Time) error {
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, presenceKey, redis.Z{
			Score:  float64(at.UnixNano()),
			Member: strconv.Itoa(userID),
		})
		pipe.ZRemRangeByScore(ctx, presenceKey, "-inf", fmt.Sprintf("(%d", at.Add(-retention).UnixNano()))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis touch presence: %w", err)
	}
	return nil
}

// SeenSince filters userIDs to those active at or after since.
func (r *Redis) SeenSince(ctx context.Context, userIDs []int, since time.Time) ([]int, error) {
	if len(userIDs) == 0 {
		return []int{}, nil
	}
	vals, err := r.cli.ZRangeByScore(ctx, presenceKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}
	active := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		id, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		active[id] = struct{}{}
	}
	return filter(userIDs, active), nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

// Database records presence in users.last_seen_at when Redis is not
// configured.
type Database struct {
	users repositories.UserRepository
}

// NewDatabase constructs the database-backed presence store.
func NewDatabase(users repositories.UserRepository) *Database {
	return &Database{users: users}
}

func (d *Database) Touch(ctx context.Context, userID int, at time.Time) error {
	return d.users.TouchLastSeen(ctx, userID, at)
}

func (d *Database) SeenSince(ctx context.Context, userIDs []int, since time.Time) ([]int, error) {
	return d.users.SeenSince(ctx, userIDs, since)
}

func filter(userIDs []int, active map[int]struct{}) []int {
	out := make([]int, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := active[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
