package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"careadmin/internal/session"
	"careadmin/internal/transport/http/shared"
	dErrors "careadmin/pkg/domain-errors"
	"careadmin/pkg/platform/sentinel"
)

// SessionHandler exposes the operational view over live sessions and lets an
// operator force a logout.
type SessionHandler struct {
	tracker session.Tracker
	logger  *slog.Logger
}

func NewSessionHandler(tracker session.Tracker, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{tracker: tracker, logger: logger}
}

type sessionView struct {
	session.Record
	Device string `json:"device,omitempty"`
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.tracker.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "session list failed", "error", err)
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not list sessions", err))
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastActivity.After(records[j].LastActivity)
	})

	views := make([]sessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, sessionView{Record: rec, Device: deviceSummary(rec.UserAgent)})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

func (h *SessionHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	info, err := h.tracker.Info(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no session for subject"))
			return
		}
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not read session", err))
		return
	}
	shared.WriteJSON(w, http.StatusOK, struct {
		session.Info
		Device string `json:"device,omitempty"`
	}{Info: info, Device: deviceSummary(info.UserAgent)})
}

func (h *SessionHandler) handleEvict(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")
	if err := h.tracker.Evict(r.Context(), subjectID); err != nil {
		h.logger.ErrorContext(r.Context(), "session evict failed", "error", err, "subject_id", subjectID)
		shared.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "could not evict session", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deviceSummary condenses a raw User-Agent header into "Browser on OS".
func deviceSummary(raw string) string {
	if raw == "" || raw == "unknown" {
		return ""
	}
	ua := useragent.New(raw)
	name, _ := ua.Browser()
	os := ua.OS()
	switch {
	case name != "" && os != "":
		return name + " on " + os
	case name != "":
		return name
	default:
		return os
	}
}
