// Package session tracks inactivity-based liveness for authenticated subjects.
// It is a second, independent check after credential verification: a valid
// token from a subject who has been idle past the timeout is still rejected.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"careadmin/pkg/platform/sentinel"
)

// DefaultTimeout applies when the configured timeout string cannot be parsed.
const DefaultTimeout = 30 * time.Minute

// Record is the transient liveness state for one subject. At most one record
// exists per subject identifier at any time.
type Record struct {
	SubjectID     string    `json:"subject_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	ActivityCount int64     `json:"activity_count"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

// Info is the read-only view exposed for operational monitoring.
type Info struct {
	Record
	Remaining time.Duration `json:"remaining"`
	Live      bool          `json:"live"`
}

// Tracker is the gate consulted on every authenticated request plus the
// auxiliary operations the sessions API and the sweeper need.
type Tracker interface {
	// Check applies the inactivity gate: creates a record on first contact,
	// refreshes a live one, and deletes-and-rejects an expired one. An expired
	// session returns sentinel.ErrExpired.
	Check(ctx context.Context, subjectID string) (Record, error)
	Info(ctx context.Context, subjectID string) (Info, error)
	// List returns all live sessions, evicting any expired entries it
	// encounters while iterating.
	List(ctx context.Context) ([]Record, error)
	// Evict removes a subject's record unconditionally (logout, admin action).
	Evict(ctx context.Context, subjectID string) error
	// SetUserAgent annotates an existing record; used once at login so the
	// sessions listing can show a device summary.
	SetUserAgent(ctx context.Context, subjectID, userAgent string) error
	// Sweep evicts every expired record and returns the eviction count.
	Sweep(ctx context.Context) (int, error)
}

// Registry is the in-memory Tracker: one process-wide table owned exclusively
// by this type. The table is mutated both by request handlers (gate checks)
// and by the sweeper goroutine, so every access holds the mutex.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	timeout time.Duration
	clock   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a clock. For tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry builds a registry with the given inactivity timeout. The timeout
// is fixed for the process lifetime.
func NewRegistry(timeout time.Duration, opts ...Option) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{
		records: make(map[string]*Record),
		timeout: timeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Timeout returns the configured inactivity timeout.
func (r *Registry) Timeout() time.Duration { return r.timeout }

func (r *Registry) Check(_ context.Context, subjectID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rec, ok := r.records[subjectID]
	if !ok {
		rec = &Record{
			SubjectID:     subjectID,
			CreatedAt:     now,
			LastActivity:  now,
			ActivityCount: 1,
		}
		r.records[subjectID] = rec
		sessionsCreated.Inc()
		return *rec, nil
	}

	if now.Sub(rec.LastActivity) > r.timeout {
		delete(r.records, subjectID)
		sessionsRejected.Inc()
		return Record{}, fmt.Errorf("session for %s: %w", subjectID, sentinel.ErrExpired)
	}

	rec.LastActivity = now
	rec.ActivityCount++
	return *rec, nil
}

func (r *Registry) Info(_ context.Context, subjectID string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subjectID]
	if !ok {
		return Info{}, fmt.Errorf("session for %s: %w", subjectID, sentinel.ErrNotFound)
	}

	idle := r.clock().Sub(rec.LastActivity)
	return Info{
		Record:    *rec,
		Remaining: r.timeout - idle,
		Live:      idle <= r.timeout,
	}, nil
}

func (r *Registry) List(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	out := make([]Record, 0, len(r.records))
	for id, rec := range r.records {
		if now.Sub(rec.LastActivity) > r.timeout {
			// Listing is a convenient second opportunity to reclaim stale memory.
			delete(r.records, id)
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *Registry) Evict(_ context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, subjectID)
	return nil
}

func (r *Registry) SetUserAgent(_ context.Context, subjectID, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[subjectID]; ok {
		rec.UserAgent = userAgent
	}
	return nil
}

func (r *Registry) Sweep(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	evicted := 0
	for id, rec := range r.records {
		if now.Sub(rec.LastActivity) > r.timeout {
			delete(r.records, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len reports the current table size, expired entries included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ParseTimeout parses a human timeout string of the form <integer><unit> with
// unit s, m, h, or d. Unparsable values fall back to DefaultTimeout; this is
// read once at startup, so a typo degrades to the default instead of failing
// the process.
func ParseTimeout(s string) time.Duration {
	if len(s) < 2 {
		return DefaultTimeout
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return DefaultTimeout
	}
	switch s[len(s)-1] {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return DefaultTimeout
	}
}
