package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultBuffer = 256

// Publisher decouples audit persistence from the code that produces entries.
// Emit never blocks and never returns an error: entries go onto a bounded
// channel consumed by a background worker, and a full buffer drops the entry
// (counted and logged) rather than delaying the caller. This makes the
// response-then-log ordering structural instead of relying on scheduling.
type Publisher struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time

	mu     sync.RWMutex
	closed bool
	inbox  chan Entry
	done   chan struct{}
	once   sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBuffer sets the inbox capacity.
func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Entry, n)
		}
	}
}

// WithClock sets the clock used for entry timestamps. For tests.
func WithClock(clock func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPublisher starts the persistence worker. Call Close to drain and stop it.
func NewPublisher(store Store, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: logger,
		clock:  time.Now,
		inbox:  make(chan Entry, defaultBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	go p.run()
	return p
}

// Emit hands an entry to the worker without blocking. A zero CreatedAt is
// stamped here so callers can stay oblivious to clocks.
func (p *Publisher) Emit(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.clock()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		entriesDropped.Inc()
		return
	}

	select {
	case p.inbox <- entry:
		entriesRecorded.Inc()
	default:
		entriesDropped.Inc()
		p.logger.Warn("audit buffer full, entry dropped",
			"action", entry.Action,
			"path", entry.Path,
		)
	}
}

// Manual records a significant action triggered outside normal HTTP handling
// (scheduled jobs, operator scripts) through the same non-throwing path.
func (p *Publisher) Manual(action ActionKind, resource ResourceKind, entry Entry) {
	entry.Action = action
	entry.Resource = resource
	if entry.Method == "" {
		entry.Method = "SCRIPT"
	}
	if entry.IP == "" {
		entry.IP = "system"
	}
	if entry.UserAgent == "" {
		entry.UserAgent = "system"
	}
	if entry.SubjectName == "" {
		entry.SubjectName = "system"
	}
	p.Emit(entry)
}

// Close stops accepting entries, drains the buffer, and waits for the worker.
// Entries emitted after Close are dropped.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
		<-p.done
	})
}

func (p *Publisher) run() {
	defer close(p.done)
	for entry := range p.inbox {
		p.persist(entry)
	}
}

// persist writes one entry. Failures are logged and counted, never propagated:
// audit logging is best effort and must stay invisible to request handling.
func (p *Publisher) persist(entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			persistFailures.Inc()
			p.logger.Error("audit persistence panicked", "panic", r)
		}
	}()

	start := time.Now()
	err := p.store.Append(context.Background(), entry)
	persistDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		persistFailures.Inc()
		p.logger.Error("failed to persist audit entry",
			"error", err,
			"action", entry.Action,
			"resource", entry.Resource,
			"path", entry.Path,
		)
	}
}
