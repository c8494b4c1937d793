package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"careadmin/internal/audit"
)

// InMemoryStore keeps audit entries in process memory. Used by tests and by
// deployments that have not configured a database yet.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func New() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter audit.Filter, page audit.Page) ([]audit.Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.Entry
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	// Most recent first, like the relational store.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := page.Offset()
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + page.Size
	if page.Size <= 0 || end > len(matched) {
		end = len(matched)
	}
	return append([]audit.Entry{}, matched[start:end]...), total, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].SubjectID == subjectID {
			out = append(out, s.entries[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) Stats(_ context.Context, since time.Time, topN int) (audit.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := audit.Stats{
		ByAction:   make(map[audit.ActionKind]int64),
		ByResource: make(map[audit.ResourceKind]int64),
	}
	type subjectAgg struct {
		name  string
		count int64
	}
	subjects := make(map[string]*subjectAgg)

	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		if e.Failed() {
			stats.Failures++
		}
		stats.ByAction[e.Action]++
		stats.ByResource[e.Resource]++
		if e.SubjectID != "" {
			agg, ok := subjects[e.SubjectID]
			if !ok {
				agg = &subjectAgg{name: e.SubjectName}
				subjects[e.SubjectID] = agg
			}
			agg.count++
		}
	}

	for id, agg := range subjects {
		stats.TopSubjects = append(stats.TopSubjects, audit.SubjectCount{
			SubjectID:   id,
			SubjectName: agg.name,
			Count:       agg.count,
		})
	}
	sort.Slice(stats.TopSubjects, func(i, j int) bool {
		if stats.TopSubjects[i].Count != stats.TopSubjects[j].Count {
			return stats.TopSubjects[i].Count > stats.TopSubjects[j].Count
		}
		return stats.TopSubjects[i].SubjectID < stats.TopSubjects[j].SubjectID
	})
	if topN > 0 && len(stats.TopSubjects) > topN {
		stats.TopSubjects = stats.TopSubjects[:topN]
	}
	return stats, nil
}

func (s *InMemoryStore) CountOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func matches(e audit.Entry, f audit.Filter) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.SubjectName), needle) &&
			!strings.Contains(strings.ToLower(e.Path), needle) &&
			!strings.Contains(strings.ToLower(e.IP), needle) {
			return false
		}
	}
	return true
}
