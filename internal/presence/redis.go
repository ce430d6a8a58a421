package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyTTL bounds how long a counter outlives a crashed process. Keep-alive
// ticks refresh it while streams are open.
const KeyTTL = 60 * time.Second

// Tracker counts open streams per user in Redis so other services can ask
// whether a user is online.
type Tracker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb, prefix: "notify:online:", ttl: KeyTTL}
}

func (t *Tracker) key(userID int64) string {
	return fmt.Sprintf("%s%d", t.prefix, userID)
}

func (t *Tracker) Connect(ctx context.Context, userID int64) error {
	pipe := t.rdb.TxPipeline()
	pipe.Incr(ctx, t.key(userID))
	pipe.Expire(ctx, t.key(userID), t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *Tracker) Touch(ctx context.Context, userID int64) error {
	return t.rdb.Expire(ctx, t.key(userID), t.ttl).Err()
}

// Disconnect decrements the counter and removes it once it reaches zero.
func (t *Tracker) Disconnect(ctx context.Context, userID int64) error {
	n, err := t.rdb.Decr(ctx, t.key(userID)).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return t.rdb.Del(ctx, t.key(userID)).Err()
	}
	return nil
}

func (t *Tracker) Online(ctx context.Context, userID int64) (bool, error) {
	n, err := t.rdb.Get(ctx, t.key(userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
