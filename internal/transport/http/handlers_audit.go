package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"careadmin/internal/audit"
	"careadmin/internal/transport/http/shared"
	dErrors "careadmin/pkg/domain-errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	defaultStatsWindow = 30 * 24 * time.Hour
	defaultTopSubjects = 5
)

// AuditHandler exposes the read-only query surface over recorded entries.
type AuditHandler struct {
	store  audit.Store
	logger *slog.Logger
	clock  func() time.Time
}

func NewAuditHandler(store audit.Store, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger, clock: time.Now}
}

type auditPage struct {
	Entries []audit.Entry `json:"entries"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	Size    int           `json:"size"`
}

func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	page := parsePage(r)

	entries, total, err := h.store.List(r.Context(), filter, page)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit query failed", "error", err)
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not query audit entries", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	shared.WriteJSON(w, http.StatusOK, auditPage{
		Entries: entries,
		Total:   total,
		Page:    page.Number,
		Size:    page.Size,
	})
}

func (h *AuditHandler) handleListBySubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	if subjectID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "subject id is required"))
		return
	}
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxPageSize)
	}

	entries, err := h.store.ListBySubject(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit query failed", "error", err, "subject_id", subjectID)
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not query audit entries", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *AuditHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "days must be a positive integer"))
			return
		}
		window = time.Duration(n) * 24 * time.Hour
	}

	stats, err := h.store.Stats(r.Context(), h.clock().Add(-window), defaultTopSubjects)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit stats failed", "error", err)
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not compute audit stats", err))
		return
	}
	shared.WriteJSON(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		SubjectID: q.Get("subject_id"),
		Action:    audit.ActionKind(q.Get("action")),
		Resource:  audit.ResourceKind(q.Get("resource")),
		Search:    q.Get("search"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "from must be an RFC 3339 timestamp")
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "to must be an RFC 3339 timestamp")
		}
		filter.To = t
	}
	return filter, nil
}

func parsePage(r *http.Request) audit.Page {
	q := r.URL.Query()
	page := audit.Page{Number: 1, Size: defaultPageSize}
	if raw := q.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page.Number = n
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page.Size = min(n, maxPageSize)
		}
	}
	return page
}
