package audit

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RecorderSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// record serves one request through the recorder middleware and returns the
// single entry it produced, or nil when nothing was recorded.
func (s *RecorderSuite) record(req *http.Request, handler http.HandlerFunc) (*Entry, *httptest.ResponseRecorder) {
	store := &stubStore{}
	publisher := NewPublisher(store, s.logger)
	rec := NewRecorder(publisher, s.logger)

	w := httptest.NewRecorder()
	rec.Middleware(handler).ServeHTTP(w, req)
	publisher.Close()

	entries := store.appended()
	if len(entries) == 0 {
		return nil, w
	}
	s.Require().Len(entries, 1)
	return &entries[0], w
}

func (s *RecorderSuite) TestMiddleware() {
	s.Run("one entry per observed request", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "10.0.0.9:4321"

		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		s.Require().NotNil(entry)
		s.Equal(ActionRead, entry.Action)
		s.Equal(ResourcePatient, entry.Resource)
		s.Equal(http.MethodGet, entry.Method)
		s.Equal("/api/patients", entry.Path)
		s.Equal("10.0.0.9", entry.IP)
		s.Equal("test-agent", entry.UserAgent)
		s.Equal(http.StatusOK, entry.StatusCode)
		s.Equal("anonymous", entry.SubjectName)
		s.False(entry.Failed())
	})

	s.Run("excluded paths produce no entry", func() {
		for _, path := range []string{"/health", "/metrics", "/favicon.ico", "/", "/static/app.css"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			s.Nil(entry, "path %s should not be recorded", path)
		}
	})

	s.Run("subject set during handling is attributed", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
		entry, _ := s.record(req, func(w http.ResponseWriter, r *http.Request) {
			SetSubject(r.Context(), "u-1", "Dr. Grey")
			w.WriteHeader(http.StatusOK)
		})

		s.Require().NotNil(entry)
		s.Equal("u-1", entry.SubjectID)
		s.Equal("Dr. Grey", entry.SubjectName)
	})

	s.Run("mutating request body is captured redacted, handler sees it intact", func() {
		body := `{"name": "Ada", "password": "hunter2"}`
		req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(body))

		var handlerSaw string
		entry, _ := s.record(req, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			handlerSaw = string(b)
			w.WriteHeader(http.StatusCreated)
		})

		s.Equal(body, handlerSaw)
		s.Require().NotNil(entry)
		captured := entry.RequestBody.(map[string]any)
		s.Equal("Ada", captured["name"])
		s.Equal(RedactedValue, captured["password"])
	})

	s.Run("GET bodies are not captured", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", strings.NewReader(`{"x":1}`))
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s.Require().NotNil(entry)
		s.Nil(entry.RequestBody)
	})

	s.Run("non-JSON body is not attached", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("not json"))
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		s.Require().NotNil(entry)
		s.Nil(entry.RequestBody)
	})

	s.Run("structured error message is extracted on failure status", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients/9", nil)
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "patient not found"}`))
		})

		s.Require().NotNil(entry)
		s.Equal(http.StatusNotFound, entry.StatusCode)
		s.Equal("patient not found", entry.ErrMessage)
		s.True(entry.Failed())
	})

	s.Run("unstructured error body is truncated raw", func() {
		long := strings.Repeat("x", maxErrMessage+100)
		req := httptest.NewRequest(http.MethodGet, "/api/patients/9", nil)
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(long))
		})

		s.Require().NotNil(entry)
		s.Len(entry.ErrMessage, maxErrMessage)
	})

	s.Run("success responses carry no error message", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"ok": true}`))
		})
		s.Require().NotNil(entry)
		s.Equal(http.StatusOK, entry.StatusCode)
		s.Empty(entry.ErrMessage)
	})

	s.Run("first forwarded-for hop wins over remote addr", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		req.RemoteAddr = "10.0.0.9:4321"

		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s.Require().NotNil(entry)
		s.Equal("203.0.113.7", entry.IP)
	})

	s.Run("missing user agent defaults to unknown", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
		entry, _ := s.record(req, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s.Require().NotNil(entry)
		s.Equal("unknown", entry.UserAgent)
	})

	s.Run("slow persistence does not delay the response", func() {
		store := &stubStore{delay: 500 * time.Millisecond}
		publisher := NewPublisher(store, s.logger)
		defer publisher.Close()
		rec := NewRecorder(publisher, s.logger)

		handler := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		start := time.Now()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
		s.Less(time.Since(start), 100*time.Millisecond)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("custom skip paths replace the defaults", func() {
		store := &stubStore{}
		publisher := NewPublisher(store, s.logger)
		rec := NewRecorder(publisher, s.logger, WithSkipPaths("/internal/ping"))

		w := httptest.NewRecorder()
		handler := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/ping", nil))
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		publisher.Close()

		entries := store.appended()
		s.Require().Len(entries, 1)
		s.Equal("/health", entries[0].Path)
	})
}
