package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"careadmin/internal/audit"
	auditmemory "careadmin/internal/audit/store/memory"
	"careadmin/internal/auth"
	"careadmin/internal/auth/store/user"
	"careadmin/internal/platform/metrics"
	"careadmin/internal/platform/middleware"
	"careadmin/internal/session"
)

type testEnv struct {
	router    http.Handler
	store     *auditmemory.InMemoryStore
	publisher *audit.Publisher
	registry  *session.Registry

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

type RouterSuite struct {
	suite.Suite
	env *testEnv
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	env.store = auditmemory.New()
	env.publisher = audit.NewPublisher(env.store, logger)
	env.registry = session.NewRegistry(30*time.Minute, session.WithClock(env.clock))

	jwtService := auth.NewJWTService("test-key", "careadmin", "careadmin-dashboard")
	users := user.New()
	hash, err := auth.HashPassword("correct horse")
	s.Require().NoError(err)
	s.Require().NoError(users.Create(context.Background(), &user.User{
		ID:           "u-1",
		Email:        "grey@hospital.test",
		Name:         "Dr. Grey",
		Role:         "doctor",
		PasswordHash: hash,
	}))
	authService := auth.NewService(users, jwtService)

	env.router = NewRouter(Dependencies{
		Logger:    logger,
		Metrics:   metrics.NewWith(prometheus.NewRegistry()),
		Recorder:  audit.NewRecorder(env.publisher, logger),
		Auth:      NewAuthHandler(authService, env.registry, logger),
		Audit:     NewAuditHandler(env.store, logger),
		Sessions:  NewSessionHandler(env.registry, logger),
		Validator: jwtService,
		Tracker:   env.registry,
	})
	s.env = env
}

func (s *RouterSuite) TearDownTest() {
	s.env.publisher.Close()
}

func (s *RouterSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.env.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) login() string {
	w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "grey@hospital.test",
		"password": "correct horse",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().NotEmpty(resp.Token)
	return resp.Token
}

func (s *RouterSuite) TestLogin() {
	s.Run("valid credentials return a token and start a session", func() {
		s.login()

		records, err := s.env.registry.List(context.Background())
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal("u-1", records[0].SubjectID)
		s.NotEmpty(records[0].UserAgent)
	})

	s.Run("wrong password is unauthorized", func() {
		w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email":    "grey@hospital.test",
			"password": "nope",
		})
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("missing fields are rejected", func() {
		w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "grey@hospital.test"})
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *RouterSuite) TestSessionGate() {
	token := s.login()

	s.Run("authenticated request passes inside the window", func() {
		w := s.do(http.MethodGet, "/api/sessions", token, nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("no token is unauthorized", func() {
		w := s.do(http.MethodGet, "/api/sessions", "", nil)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("garbage token is unauthorized", func() {
		w := s.do(http.MethodGet, "/api/sessions", "not.a.token", nil)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("idle past the timeout yields SESSION_EXPIRED", func() {
		s.env.advance(31 * time.Minute)
		w := s.do(http.MethodGet, "/api/sessions", token, nil)
		s.Equal(http.StatusUnauthorized, w.Code)

		var resp map[string]string
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("SESSION_EXPIRED", resp["error"])
	})

	s.Run("request after the rejection starts a fresh session", func() {
		w := s.do(http.MethodGet, "/api/sessions", token, nil)
		s.Equal(http.StatusOK, w.Code)
	})
}

func (s *RouterSuite) TestLogout() {
	token := s.login()

	w := s.do(http.MethodPost, "/api/auth/logout", token, nil)
	s.Equal(http.StatusNoContent, w.Code)

	records, err := s.env.registry.List(context.Background())
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *RouterSuite) TestAuditLogs() {
	token := s.login()

	// Generate a little traffic to query.
	s.do(http.MethodGet, "/api/sessions", token, nil)
	s.do(http.MethodGet, "/api/audit-logs", token, nil)
	s.env.publisher.Close()

	s.Run("list returns recorded entries newest first", func() {
		w := s.do(http.MethodGet, "/api/audit-logs?page=1&limit=50", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Entries []audit.Entry `json:"entries"`
			Total   int64         `json:"total"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.NotZero(resp.Total)
		s.NotEmpty(resp.Entries)
	})

	s.Run("filters narrow by action", func() {
		w := s.do(http.MethodGet, "/api/audit-logs?action=LOGIN", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Entries []audit.Entry `json:"entries"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		for _, e := range resp.Entries {
			s.Equal(audit.ActionLogin, e.Action)
		}
	})

	s.Run("bad timestamp filter is rejected", func() {
		w := s.do(http.MethodGet, "/api/audit-logs?from=yesterday", token, nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("per-subject listing", func() {
		w := s.do(http.MethodGet, "/api/audit-logs/user/u-1", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Entries []audit.Entry `json:"entries"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		for _, e := range resp.Entries {
			s.Equal("u-1", e.SubjectID)
		}
	})

	s.Run("stats aggregate the window", func() {
		w := s.do(http.MethodGet, "/api/audit-logs/stats", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var stats audit.Stats
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &stats))
		s.NotZero(stats.Total)
	})
}

func (s *RouterSuite) TestSessionsAPI() {
	token := s.login()

	s.Run("list includes a device summary", func() {
		w := s.do(http.MethodGet, "/api/sessions", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var resp struct {
			Sessions []map[string]any `json:"sessions"`
			Count    int              `json:"count"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Require().Equal(1, resp.Count)
		s.Contains(resp.Sessions[0]["device"], "Firefox")
	})

	s.Run("info reports remaining time", func() {
		w := s.do(http.MethodGet, "/api/sessions/u-1", token, nil)
		s.Require().Equal(http.StatusOK, w.Code)

		var info struct {
			Live      bool          `json:"live"`
			Remaining time.Duration `json:"remaining"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &info))
		s.True(info.Live)
	})

	s.Run("info for unknown subject is not found", func() {
		w := s.do(http.MethodGet, "/api/sessions/nobody", token, nil)
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("delete evicts the subject session", func() {
		w := s.do(http.MethodDelete, "/api/sessions/u-1", token, nil)
		s.Equal(http.StatusNoContent, w.Code)

		records, err := s.env.registry.List(context.Background())
		s.Require().NoError(err)
		s.Empty(records)
	})
}

func (s *RouterSuite) TestHealthAndRecording() {
	token := s.login()
	s.do(http.MethodGet, "/health", token, nil)
	s.env.publisher.Close()

	entries, total, err := s.env.store.List(context.Background(), audit.Filter{}, audit.Page{Number: 1, Size: 50})
	s.Require().NoError(err)
	s.NotZero(total)
	for _, e := range entries {
		s.NotEqual("/health", e.Path)
	}

	// The login itself was recorded with classification and attribution.
	logins, _, err := s.env.store.List(context.Background(), audit.Filter{Action: audit.ActionLogin}, audit.Page{Number: 1, Size: 10})
	s.Require().NoError(err)
	s.Require().NotEmpty(logins)
	s.Equal(audit.ActionLogin, logins[0].Action)
	s.Equal(http.StatusOK, logins[0].StatusCode)
}

func (s *RouterSuite) TestPanickedHandlerIsRecorded() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := auditmemory.New()
	publisher := audit.NewPublisher(store, logger)
	recorder := audit.NewRecorder(publisher, logger)

	// Same ordering as NewRouter: the recorder wraps Recovery, so the 500
	// written for a panicked handler passes through the capture writer.
	h := recorder.Middleware(middleware.Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodDelete, "/api/users/2e9b0c4a-1f3d-4e5b-8a6c-7d8e9f0a1b2c", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	s.Equal(http.StatusInternalServerError, w.Code)

	publisher.Close()
	entries, _, err := store.List(context.Background(), audit.Filter{}, audit.Page{Number: 1, Size: 10})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(http.StatusInternalServerError, entries[0].StatusCode)
	s.Equal("internal_error", entries[0].ErrMessage)
	s.Equal(audit.ActionDelete, entries[0].Action)
}
