package audit

import (
	"context"
	"sync"
)

// capture carries mutable per-request audit state across the middleware chain.
// The recorder runs before authentication, so the authenticated subject is not
// known when the request enters; auth middleware writes it back through this
// carrier and the recorder reads it once the response has finished.
type capture struct {
	mu          sync.Mutex
	subjectID   string
	subjectName string
}

type captureKey struct{}

func withCapture(ctx context.Context) (context.Context, *capture) {
	c := &capture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

// SetSubject records the authenticated subject for the in-flight request so
// the audit entry emitted at response-finish time can attribute the action.
// No-op when the request is not being recorded (skip paths, manual contexts).
func SetSubject(ctx context.Context, subjectID, subjectName string) {
	c, ok := ctx.Value(captureKey{}).(*capture)
	if !ok {
		return
	}
	c.mu.Lock()
	c.subjectID = subjectID
	c.subjectName = subjectName
	c.mu.Unlock()
}

func (c *capture) subject() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subjectID, c.subjectName
}
