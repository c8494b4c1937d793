//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"careadmin/internal/audit"
	"careadmin/internal/audit/store/postgres"
	"careadmin/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	base     time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_entries"))
	s.base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) seed(entries ...audit.Entry) {
	ctx := context.Background()
	for _, e := range entries {
		s.Require().NoError(s.store.Append(ctx, e))
	}
}

func (s *PostgresStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	s.seed(
		audit.Entry{
			SubjectID:   "u1",
			SubjectName: "Dr. Grey",
			Action:      audit.ActionCreate,
			Resource:    audit.ResourcePatient,
			ResourceID:  "123e4567-e89b-12d3-a456-426614174000",
			Method:      "POST",
			Path:        "/api/patients",
			IP:          "10.0.0.1",
			UserAgent:   "test-agent",
			StatusCode:  201,
			Duration:    42 * time.Millisecond,
			RequestBody: map[string]any{"name": "Ada", "password": audit.RedactedValue},
			CreatedAt:   s.base,
		},
		audit.Entry{
			SubjectName: "anonymous",
			Action:      audit.ActionLogin,
			Resource:    audit.ResourceSystem,
			Method:      "POST",
			Path:        "/api/auth/login",
			IP:          "10.0.0.2",
			UserAgent:   "test-agent",
			StatusCode:  401,
			ErrMessage:  "invalid credentials",
			CreatedAt:   s.base.Add(time.Minute),
		},
	)

	s.Run("round trip preserves every field", func() {
		entries, total, err := s.store.List(ctx, audit.Filter{SubjectID: "u1"}, audit.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Equal(int64(1), total)
		s.Require().Len(entries, 1)

		e := entries[0]
		s.Equal("u1", e.SubjectID)
		s.Equal("Dr. Grey", e.SubjectName)
		s.Equal(audit.ActionCreate, e.Action)
		s.Equal(audit.ResourcePatient, e.Resource)
		s.Equal("123e4567-e89b-12d3-a456-426614174000", e.ResourceID)
		s.Equal(201, e.StatusCode)
		s.Equal(42*time.Millisecond, e.Duration)
		s.Equal(s.base, e.CreatedAt.UTC())

		body := e.RequestBody.(map[string]any)
		s.Equal("Ada", body["name"])
		s.Equal(audit.RedactedValue, body["password"])
	})

	s.Run("newest first ordering", func() {
		entries, _, err := s.store.List(ctx, audit.Filter{}, audit.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		s.Equal("/api/auth/login", entries[0].Path)
	})

	s.Run("search is case-insensitive across name path and ip", func() {
		_, total, err := s.store.List(ctx, audit.Filter{Search: "grey"}, audit.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Equal(int64(1), total)

		_, total, err = s.store.List(ctx, audit.Filter{Search: "LOGIN"}, audit.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Equal(int64(1), total)
	})

	s.Run("failure entries keep their error message", func() {
		entries, _, err := s.store.List(ctx, audit.Filter{Action: audit.ActionLogin}, audit.Page{Number: 1, Size: 10})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("invalid credentials", entries[0].ErrMessage)
		s.True(entries[0].Failed())
	})

	s.Run("pagination slices while total counts all", func() {
		entries, total, err := s.store.List(ctx, audit.Filter{}, audit.Page{Number: 2, Size: 1})
		s.Require().NoError(err)
		s.Equal(int64(2), total)
		s.Require().Len(entries, 1)
		s.Equal("/api/patients", entries[0].Path)
	})
}

func (s *PostgresStoreSuite) TestListBySubject() {
	for i := 0; i < 3; i++ {
		s.seed(audit.Entry{
			SubjectID: "u1", SubjectName: "Grey", Action: audit.ActionRead,
			Resource: audit.ResourcePatient, Method: "GET", Path: "/api/patients",
			IP: "10.0.0.1", UserAgent: "t", StatusCode: 200,
			CreatedAt: s.base.Add(time.Duration(i) * time.Minute),
		})
	}

	entries, err := s.store.ListBySubject(context.Background(), "u1", 2)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(s.base.Add(2*time.Minute), entries[0].CreatedAt.UTC())
}

func (s *PostgresStoreSuite) TestStats() {
	s.seed(
		audit.Entry{SubjectID: "u1", SubjectName: "Grey", Action: audit.ActionRead, Resource: audit.ResourcePatient, Method: "GET", Path: "/p", IP: "i", UserAgent: "t", StatusCode: 200, CreatedAt: s.base},
		audit.Entry{SubjectID: "u1", SubjectName: "Grey", Action: audit.ActionRead, Resource: audit.ResourcePatient, Method: "GET", Path: "/p", IP: "i", UserAgent: "t", StatusCode: 200, CreatedAt: s.base.Add(time.Minute)},
		audit.Entry{SubjectID: "u2", SubjectName: "House", Action: audit.ActionDelete, Resource: audit.ResourceUser, Method: "DELETE", Path: "/u", IP: "i", UserAgent: "t", StatusCode: 500, CreatedAt: s.base.Add(2 * time.Minute)},
		audit.Entry{SubjectName: "anonymous", Action: audit.ActionLogin, Resource: audit.ResourceSystem, Method: "POST", Path: "/l", IP: "i", UserAgent: "t", StatusCode: 401, CreatedAt: s.base.Add(-time.Hour)},
	)

	stats, err := s.store.Stats(context.Background(), s.base, 5)
	s.Require().NoError(err)
	s.Equal(int64(3), stats.Total)
	s.Equal(int64(1), stats.Failures)
	s.Equal(int64(2), stats.ByAction[audit.ActionRead])
	s.Equal(int64(2), stats.ByResource[audit.ResourcePatient])

	s.Require().Len(stats.TopSubjects, 2)
	s.Equal("u1", stats.TopSubjects[0].SubjectID)
	s.Equal(int64(2), stats.TopSubjects[0].Count)
	s.Equal("Grey", stats.TopSubjects[0].SubjectName)
}

func (s *PostgresStoreSuite) TestRetentionOperations() {
	ctx := context.Background()
	s.seed(
		audit.Entry{SubjectName: "a", Action: audit.ActionRead, Resource: audit.ResourceSystem, Method: "GET", Path: "/old", IP: "i", UserAgent: "t", StatusCode: 200, CreatedAt: s.base.Add(-48 * time.Hour)},
		audit.Entry{SubjectName: "a", Action: audit.ActionRead, Resource: audit.ResourceSystem, Method: "GET", Path: "/recent", IP: "i", UserAgent: "t", StatusCode: 200, CreatedAt: s.base},
	)

	count, err := s.store.CountOlderThan(ctx, s.base.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	deleted, err := s.store.DeleteOlderThan(ctx, s.base.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	entries, total, err := s.store.List(ctx, audit.Filter{}, audit.Page{Number: 1, Size: 10})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Equal("/recent", entries[0].Path)
}
