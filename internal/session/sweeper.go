package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper walks the session table.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically evicts expired session records. The reactive gate only
// fires on incoming requests, so a subject who stops sending requests entirely
// would otherwise leave a stale entry in memory forever.
type Sweeper struct {
	tracker  Tracker
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(tracker Tracker, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{tracker: tracker, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			evicted, err := s.tracker.Sweep(ctx)
			if err != nil {
				s.logger.Error("session sweep failed", "error", err)
				continue
			}
			if evicted > 0 {
				s.logger.Info("evicted expired sessions", "evicted", evicted)
				sessionsExpired.Add(float64(evicted))
			}
		}
	}
}
