// Package search indexes document records for full-text lookup. Meilisearch
// is optional; when it is absent or unhealthy the service degrades to a
// substring scan over the record store.
package search

import (
	"context"
	"log"
	"strings"

	"paperkeep/api/internal/docs"
)

type recordLister interface {
	List(ctx context.Context, userID string) ([]docs.Record, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// store scan.
type Service struct {
	meili   *Meili
	records recordLister
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, records recordLister) *Service {
	return &Service{meili: meili, records: records}
}

// Search tries Meilisearch if healthy, otherwise scans the user's records.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.scan(ctx, q)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// scan is the fallback: case-insensitive substring match over title,
// description, notes and tags of the user's own records.
func (s *Service) scan(ctx context.Context, q Query) ([]Result, int, error) {
	records, err := s.records.List(ctx, q.UserID)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var results []Result
	for _, r := range records {
		if q.FilterCategory != "" && r.Category != q.FilterCategory {
			continue
		}
		if q.FilterStatus != "" && string(r.Status) != q.FilterStatus {
			continue
		}
		if needle != "" && !matches(r, needle) {
			continue
		}
		results = append(results, Result{
			ID:       r.ID,
			Title:    r.Title,
			Snippet:  r.Description,
			Type:     r.Type,
			Category: r.Category,
			Status:   string(r.Status),
			DueDate:  r.DueDate,
		})
	}

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func matches(r docs.Record, needle string) bool {
	haystacks := []string{r.Title, r.Description, r.Notes}
	haystacks = append(haystacks, r.Tags...)
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// IndexRecord indexes a record (fire-and-forget to Meilisearch).
func (s *Service) IndexRecord(rec docs.Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecord(toIndexRecord(rec)); err != nil {
			log.Printf("search: index record %s: %v", rec.ID, err)
		}
	}()
}

// DeleteRecord removes a record from the index (fire-and-forget).
func (s *Service) DeleteRecord(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRecord(id); err != nil {
			log.Printf("search: delete record %s: %v", id, err)
		}
	}()
}

func toIndexRecord(r docs.Record) IndexRecord {
	return IndexRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Type:        r.Type,
		Description: r.Description,
		Notes:       r.Notes,
		Tags:        r.Tags,
		Category:    r.Category,
		Status:      string(r.Status),
		DueDate:     r.DueDate,
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
