// Package docs owns the per-user document collections and their category and
// type vocabularies. State is stored as JSON values under per-user Redis
// keys; corrupt values degrade to empty collections rather than failing.
package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"paperkeep/api/internal/util"
)

// ErrNotFound is returned when a record does not exist in the acting user's
// collection. Cross-user lookups are indistinguishable from missing records.
var ErrNotFound = errors.New("document not found")

var defaultCategories = []string{"Personal", "Financial", "Legal", "Medical", "Work"}

var defaultTypes = []string{"Invoice", "ID Card", "License", "Passport", "Contract", "Warranty", "Other"}

// Store is the Redis-backed document record store.
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

func documentsKey(userID string) string { return "user:" + userID + ":documents" }
func categoriesKey(userID string) string { return "user:" + userID + ":categories" }
func typesKey(userID string) string    { return "user:" + userID + ":doctypes" }

// List returns every record in the user's collection, including soft-deleted
// ones. A missing or corrupt value yields an empty collection.
func (s *Store) List(ctx context.Context, userID string) ([]Record, error) {
	raw, err := s.client.Get(ctx, documentsKey(userID)).Result()
	if err == redis.Nil {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		log.Printf("docs: corrupt document collection for user %s, falling back to empty: %v", userID, err)
		return []Record{}, nil
	}
	return records, nil
}

// Get returns a single record owned by the user.
func (s *Store) Get(ctx context.Context, userID, id string) (Record, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

// Create adds a record to the user's collection. ID, owner, creation time
// and status default are assigned here and are immutable afterwards.
func (s *Store) Create(ctx context.Context, userID string, rec Record) (Record, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	rec.ID = util.NewID("doc")
	rec.UserID = userID
	rec.CreatedAt = time.Now().UTC()
	if !rec.Status.Valid() {
		rec.Status = StatusActive
	}
	rec.Importance = ParseImportance(string(rec.Importance))

	records = append(records, rec)
	if err := s.save(ctx, userID, records); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update replaces the mutable fields of an existing record. ID, owner and
// creation time are preserved; a status change outside the legal transition
// table is silently dropped and the stored status kept.
func (s *Store) Update(ctx context.Context, userID string, rec Record) (Record, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	for i, existing := range records {
		if existing.ID != rec.ID {
			continue
		}
		rec.UserID = existing.UserID
		rec.CreatedAt = existing.CreatedAt
		if !CanUserSet(existing.Status, rec.Status) {
			rec.Status = existing.Status
		}
		rec.Importance = ParseImportance(string(rec.Importance))
		records[i] = rec
		if err := s.save(ctx, userID, records); err != nil {
			return Record{}, err
		}
		return rec, nil
	}
	return Record{}, ErrNotFound
}

// SetStatus applies a status transition. When auto is true the scheduler
// rules apply (only active|pending may expire, absorbing states never move);
// otherwise the user-driven rules apply. An illegal transition is a no-op:
// the record is returned unchanged with changed=false and no error.
func (s *Store) SetStatus(ctx context.Context, userID, id string, to Status, auto bool) (Record, bool, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return Record{}, false, err
	}

	for i, existing := range records {
		if existing.ID != id {
			continue
		}
		allowed := CanUserSet(existing.Status, to)
		if auto {
			allowed = to == StatusExpired && CanAutoExpire(existing.Status)
		}
		if !allowed || existing.Status == to {
			return existing, false, nil
		}
		records[i].Status = to
		if err := s.save(ctx, userID, records); err != nil {
			return Record{}, false, err
		}
		return records[i], true, nil
	}
	return Record{}, false, ErrNotFound
}

// Delete removes a record. A soft delete transitions it to the deleted
// status and retains it; a hard delete removes it from the collection.
func (s *Store) Delete(ctx context.Context, userID, id string, hard bool) error {
	if !hard {
		_, _, err := s.SetStatus(ctx, userID, id, StatusDeleted, false)
		return err
	}

	records, err := s.List(ctx, userID)
	if err != nil {
		return err
	}
	kept := records[:0]
	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return ErrNotFound
	}
	return s.save(ctx, userID, kept)
}

func (s *Store) save(ctx context.Context, userID string, records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	if err := s.client.Set(ctx, documentsKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("save documents: %w", err)
	}
	return nil
}

// Categories returns the user's category vocabulary, seeded with defaults on
// first read.
func (s *Store) Categories(ctx context.Context, userID string) ([]string, error) {
	return s.vocabulary(ctx, categoriesKey(userID), defaultCategories)
}

// AddCategory extends the category vocabulary; duplicates are ignored.
func (s *Store) AddCategory(ctx context.Context, userID, name string) ([]string, error) {
	return s.addVocabulary(ctx, categoriesKey(userID), defaultCategories, name)
}

// Types returns the user's document-type vocabulary, seeded with defaults on
// first read.
func (s *Store) Types(ctx context.Context, userID string) ([]string, error) {
	return s.vocabulary(ctx, typesKey(userID), defaultTypes)
}

// AddType extends the document-type vocabulary; duplicates are ignored.
func (s *Store) AddType(ctx context.Context, userID, name string) ([]string, error) {
	return s.addVocabulary(ctx, typesKey(userID), defaultTypes, name)
}

func (s *Store) vocabulary(ctx context.Context, key string, defaults []string) ([]string, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return append([]string(nil), defaults...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}

	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		log.Printf("docs: corrupt vocabulary at %s, falling back to defaults: %v", key, err)
		return append([]string(nil), defaults...), nil
	}
	return values, nil
}

func (s *Store) addVocabulary(ctx context.Context, key string, defaults []string, name string) ([]string, error) {
	values, err := s.vocabulary(ctx, key, defaults)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if v == name {
			return values, nil
		}
	}
	values = append(values, name)

	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal vocabulary: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return nil, fmt.Errorf("save vocabulary: %w", err)
	}
	return values, nil
}

// Ping checks Redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
