// Package presence tracks which users have been active recently. It is
// the "is the other person around right now" signal that gates
// resurfacing: a reveal that was already seen only reappears when the
// other participant has been active within the configured window.
//
// The implementation is a Redis key per user with a TTL equal to the
// window. Touching the key on every authenticated request keeps it alive;
// existence of the key is the signal. Nothing is stored in MySQL; the
// signal is ephemeral.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker reads and writes per-user activity keys. A nil Redis client
// disables the tracker: Touch becomes a no-op and FilterActive reports
// nobody active, which silently disables resurfacing while leaving the
// pending path intact.
type Tracker struct {
	rdb    *redis.Client
	window time.Duration
}

// NewTracker returns a Tracker using the given activity window.
func NewTracker(rdb *redis.Client, window time.Duration) *Tracker {
	return &Tracker{rdb: rdb, window: window}
}

func (t *Tracker) key(userID uint64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// Touch records that the user is active now. The key expires after the
// window, so absence of the key means "not recently active".
func (t *Tracker) Touch(ctx context.Context, userID uint64) error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Set(ctx, t.key(userID), time.Now().UTC().Unix(), t.window).Err()
}

// ActiveWithin reports whether the user has been active inside the window.
func (t *Tracker) ActiveWithin(ctx context.Context, userID uint64) (bool, error) {
	if t.rdb == nil {
		return false, nil
	}
	n, err := t.rdb.Exists(ctx, t.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FilterActive returns the subset of ids that are currently active, using
// one pipelined round trip. Order of the input is preserved.
func (t *Tracker) FilterActive(ctx context.Context, userIDs []uint64) ([]uint64, error) {
	if t.rdb == nil || len(userIDs) == 0 {
		return nil, nil
	}
	pipe := t.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, t.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	var active []uint64
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			active = append(active, userIDs[i])
		}
	}
	return active, nil
}
