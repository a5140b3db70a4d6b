package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleStore persists the per-user "last swept at" timestamp. It is the
// shared state every scheduling opportunity must consult before proceeding;
// writes are read-after-write consistent so the next sweep sees the update.
type ThrottleStore struct {
	client *redis.Client
}

// NewThrottleStore creates a throttle store from an existing Redis client.
func NewThrottleStore(client *redis.Client) *ThrottleStore {
	return &ThrottleStore{client: client}
}

func lastSweptKey(userID string) string { return "user:" + userID + ":last_swept_at" }

// LastSweptAt returns the user's last sweep time. The second result is false
// when no sweep has been recorded; a corrupt value is treated the same way
// so the sweep proceeds rather than stalling forever.
func (s *ThrottleStore) LastSweptAt(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, lastSweptKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last swept: %w", err)
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Printf("reminder: corrupt last-swept timestamp for user %s: %v", userID, err)
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetLastSweptAt records that a sweep ran at the given time.
func (s *ThrottleStore) SetLastSweptAt(ctx context.Context, userID string, t time.Time) error {
	if err := s.client.Set(ctx, lastSweptKey(userID), t.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("save last swept: %w", err)
	}
	return nil
}
