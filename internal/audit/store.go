package audit

import (
	"context"
	"time"
)

// Filter narrows audit queries. Zero values mean "no constraint".
type Filter struct {
	SubjectID string
	Action    ActionKind
	Resource  ResourceKind
	From      time.Time
	To        time.Time
	// Search matches case-insensitively as a substring against subject name,
	// path, and IP.
	Search string
}

// Page is offset pagination for the query surface.
type Page struct {
	Number int // 1-based
	Size   int
}

// Offset returns the row offset for this page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// SubjectCount is one row of a top-N subject breakdown.
type SubjectCount struct {
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	Count       int64  `json:"count"`
}

// Stats aggregates entries recorded since a cutoff.
type Stats struct {
	Total       int64                  `json:"total"`
	Failures    int64                  `json:"failures"`
	ByAction    map[ActionKind]int64   `json:"by_action"`
	ByResource  map[ResourceKind]int64 `json:"by_resource"`
	TopSubjects []SubjectCount         `json:"top_subjects"`
}

// Store is the persistence collaborator for audit entries. Any implementation
// (relational, in-memory, log file) satisfying it is sufficient; the recorder
// never assumes more than these operations.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter, page Page) ([]Entry, int64, error)
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]Entry, error)
	Stats(ctx context.Context, since time.Time, topN int) (Stats, error)
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
