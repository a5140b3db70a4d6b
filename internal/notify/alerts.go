package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"paperkeep/api/internal/util"
)

// Alert is one entry in a user's in-app feed. The in-app channel has no
// permission dependency and is the delivery baseline for every dispatch.
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Alert kinds.
const (
	KindReminder = "reminder"
	KindNotice   = "notice"
)

// maxAlerts caps the per-user feed; older entries are dropped.
const maxAlerts = 100

// AlertStore is the Redis-backed in-app alert feed, newest first.
type AlertStore struct {
	client *redis.Client
}

// NewAlertStore creates a feed store from an existing Redis client.
func NewAlertStore(client *redis.Client) *AlertStore {
	return &AlertStore{client: client}
}

func alertsKey(userID string) string { return "user:" + userID + ":alerts" }

// Append adds an alert to the front of the user's feed.
func (s *AlertStore) Append(ctx context.Context, userID, kind, message string) (Alert, error) {
	alerts, err := s.List(ctx, userID)
	if err != nil {
		return Alert{}, err
	}

	alert := Alert{
		ID:        util.NewID("alert"),
		Message:   message,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	alerts = append([]Alert{alert}, alerts...)
	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}

	if err := s.save(ctx, userID, alerts); err != nil {
		return Alert{}, err
	}
	return alert, nil
}

// List returns the user's feed. Missing or corrupt state yields an empty
// feed.
func (s *AlertStore) List(ctx context.Context, userID string) ([]Alert, error) {
	raw, err := s.client.Get(ctx, alertsKey(userID)).Result()
	if err == redis.Nil {
		return []Alert{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}

	var alerts []Alert
	if err := json.Unmarshal([]byte(raw), &alerts); err != nil {
		log.Printf("notify: corrupt alert feed for user %s, falling back to empty: %v", userID, err)
		return []Alert{}, nil
	}
	return alerts, nil
}

// MarkAllRead flags every alert in the feed as read.
func (s *AlertStore) MarkAllRead(ctx context.Context, userID string) error {
	alerts, err := s.List(ctx, userID)
	if err != nil {
		return err
	}
	for i := range alerts {
		alerts[i].Read = true
	}
	return s.save(ctx, userID, alerts)
}

func (s *AlertStore) save(ctx context.Context, userID string, alerts []Alert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	if err := s.client.Set(ctx, alertsKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	return nil
}
