// Package retention implements the scheduled data-retention job: short-lived
// auxiliary records are deleted once stale, while audit entries inside the
// compliance window are only ever counted, never deleted — the window is a
// minimum retention requirement, not a maximum.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"careadmin/internal/audit"
)

const (
	// DefaultTokenWindow is how long password-reset tokens are kept.
	DefaultTokenWindow = 7 * 24 * time.Hour
	// DefaultAuditWindow is the compliance minimum for audit entries (7 years).
	DefaultAuditWindow = 2555 * 24 * time.Hour
)

// Result summarizes one retention run. Created fresh per run and never
// mutated after the run completes.
type Result struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Success         bool      `json:"success"`
	TokensDeleted   int64     `json:"tokens_deleted"`
	ArchiveEligible int64     `json:"archive_eligible"`
	StepsRun        []string  `json:"steps_run"`
	Errors          []string  `json:"errors,omitempty"`
}

// TokenStore is the slice of the reset-token store the job needs.
type TokenStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditCounter is the slice of the audit store the job needs. Deletion is
// deliberately absent from this interface: the job must not be able to remove
// audit entries.
type AuditCounter interface {
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service orchestrates retention runs.
type Service struct {
	tokens    TokenStore
	audits    AuditCounter
	publisher *audit.Publisher
	logger    *slog.Logger

	tokenWindow time.Duration
	auditWindow time.Duration
	clock       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWindows overrides the retention windows.
func WithWindows(tokenWindow, auditWindow time.Duration) ServiceOption {
	return func(s *Service) {
		if tokenWindow > 0 {
			s.tokenWindow = tokenWindow
		}
		if auditWindow > 0 {
			s.auditWindow = auditWindow
		}
	}
}

// WithServiceClock injects a clock. For tests.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(tokens TokenStore, audits AuditCounter, publisher *audit.Publisher, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		tokens:      tokens,
		audits:      audits,
		publisher:   publisher,
		logger:      logger,
		tokenWindow: DefaultTokenWindow,
		auditWindow: DefaultAuditWindow,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run executes the retention steps. Steps are independent cleanup tasks: a
// failure in one is recorded and the next still runs, and the aggregate
// outcome is reported in the summary entry.
func (s *Service) Run(ctx context.Context) Result {
	result := Result{StartedAt: s.clock()}

	if deleted, err := s.tokens.DeleteOlderThan(ctx, result.StartedAt.Add(-s.tokenWindow)); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete reset tokens: %v", err))
		s.logger.Error("retention: delete reset tokens failed", "error", err)
	} else {
		result.TokensDeleted = deleted
		result.StepsRun = append(result.StepsRun, "reset_tokens")
		s.logger.Info("retention: deleted expired reset tokens", "deleted", deleted)
	}

	if eligible, err := s.audits.CountOlderThan(ctx, result.StartedAt.Add(-s.auditWindow)); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("count archival-eligible audit entries: %v", err))
		s.logger.Error("retention: archival scan failed", "error", err)
	} else {
		result.ArchiveEligible = eligible
		result.StepsRun = append(result.StepsRun, "audit_archival_scan")
		s.logger.Info("retention: audit entries eligible for archival", "eligible", eligible)
	}

	result.FinishedAt = s.clock()
	result.Success = len(result.Errors) == 0

	s.recordSummary(result)
	return result
}

// recordSummary writes one audit entry describing the run through the manual
// path. Its own failure must never cascade into the run's outcome.
func (s *Service) recordSummary(result Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("retention: failed to record summary", "panic", r)
		}
	}()

	status := 200
	errMsg := ""
	if !result.Success {
		status = 500
		errMsg = fmt.Sprintf("%d step error(s): %v", len(result.Errors), result.Errors)
	}

	s.publisher.Manual(audit.ActionDelete, audit.ResourceSystem, audit.Entry{
		Path:       "retention/run",
		StatusCode: status,
		Duration:   result.FinishedAt.Sub(result.StartedAt),
		RequestBody: map[string]any{
			"tokens_deleted":   result.TokensDeleted,
			"archive_eligible": result.ArchiveEligible,
			"steps_run":        result.StepsRun,
			"success":          result.Success,
		},
		ErrMessage: errMsg,
		CreatedAt:  result.StartedAt,
	})
}
