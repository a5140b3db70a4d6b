// Package prefs stores per-user notification preferences as JSON under a
// per-user Redis key. A missing or malformed value never propagates an
// error; it degrades to documented defaults so a sweep can always proceed.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Preferences are the per-user notification settings. Channel toggles are
// independent; reminder days is the global eligibility threshold used when a
// document carries no override.
type Preferences struct {
	EmailNotifications bool    `json:"emailNotifications"`
	PushNotifications  bool    `json:"pushNotifications"`
	VoiceReminders     bool    `json:"voiceReminders"`
	ReminderDays       int     `json:"reminderDays"`
	VoiceType          string  `json:"voiceType,omitempty"`
	Volume             float64 `json:"volume"`
	Rate               float64 `json:"rate"`
	Pitch              float64 `json:"pitch"`
}

// DefaultReminderDays is the threshold applied when preferences are missing
// or corrupt. All channels except in-app default to off.
const DefaultReminderDays = 3

// Defaults returns the documented fallback preferences.
func Defaults() Preferences {
	return Preferences{
		ReminderDays: DefaultReminderDays,
		Volume:       1.0,
		Rate:         1.0,
		Pitch:        1.0,
	}
}

// Store is the Redis-backed preferences store.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient creates a store from an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func prefsKey(userID string) string { return "user:" + userID + ":preferences" }

// Load returns the user's preferences. Missing or corrupt state yields the
// defaults; out-of-range fields are individually repaired.
func (s *Store) Load(ctx context.Context, userID string) (Preferences, error) {
	raw, err := s.client.Get(ctx, prefsKey(userID)).Result()
	if err == redis.Nil {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("read preferences: %w", err)
	}

	var p Preferences
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		log.Printf("prefs: corrupt preferences for user %s, falling back to defaults: %v", userID, err)
		return Defaults(), nil
	}
	return repair(p), nil
}

// Save persists the user's preferences.
func (s *Store) Save(ctx context.Context, userID string, p Preferences) error {
	data, err := json.Marshal(repair(p))
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := s.client.Set(ctx, prefsKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// repair replaces individual out-of-range fields with their defaults without
// discarding the rest of the object.
func repair(p Preferences) Preferences {
	if p.ReminderDays <= 0 {
		p.ReminderDays = DefaultReminderDays
	}
	if p.Volume <= 0 || p.Volume > 1 {
		p.Volume = 1.0
	}
	if p.Rate <= 0 {
		p.Rate = 1.0
	}
	if p.Pitch <= 0 {
		p.Pitch = 1.0
	}
	return p
}

// Ping checks Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
