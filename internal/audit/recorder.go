package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// maxCapturedBody caps how much of a request or response body the recorder
	// retains in memory per request.
	maxCapturedBody = 64 << 10
	// maxErrMessage truncates error messages copied from response bodies.
	maxErrMessage = 500
)

// Recorder observes every HTTP request/response pair exactly once and emits
// exactly one audit entry per observed pair. It is installed globally, ahead
// of route dispatch, and must be invisible to request latency and correctness:
// the whole observation pipeline is best effort and swallows its own faults.
type Recorder struct {
	publisher *Publisher
	logger    *slog.Logger
	clock     func() time.Time
	skipPaths map[string]struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock sets the clock used for timing. For tests.
func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSkipPaths replaces the default excluded paths.
func WithSkipPaths(paths ...string) RecorderOption {
	return func(r *Recorder) {
		r.skipPaths = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			r.skipPaths[p] = struct{}{}
		}
	}
}

// NewRecorder builds the audit middleware around a publisher.
func NewRecorder(publisher *Publisher, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		publisher: publisher,
		logger:    logger,
		clock:     time.Now,
		skipPaths: map[string]struct{}{
			"/":            {},
			"/health":      {},
			"/metrics":     {},
			"/favicon.ico": {},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Middleware wraps the response writer, lets the request run, and emits the
// entry after the response has finished, whether the handler completed
// normally, returned early, or panicked into a recovery layer downstream.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := rec.clock()
		ctx, capt := withCapture(r.Context())
		r = r.WithContext(ctx)

		reqBody := rec.captureRequestBody(r)
		cw := &captureWriter{ResponseWriter: w}

		defer func() {
			rec.observe(r, capt, cw, reqBody, start)
		}()

		next.ServeHTTP(cw, r)
	})
}

func (rec *Recorder) skip(path string) bool {
	if _, ok := rec.skipPaths[path]; ok {
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

// observe assembles and emits the entry. Any fault in classification,
// redaction, or assembly is caught and logged here; nothing propagates into
// the request path.
func (rec *Recorder) observe(r *http.Request, capt *capture, cw *captureWriter, reqBody []byte, start time.Time) {
	defer func() {
		if p := recover(); p != nil {
			rec.logger.Error("audit observation failed", "panic", p, "path", r.URL.Path)
		}
	}()

	subjectID, subjectName := capt.subject()
	if subjectName == "" {
		subjectName = "anonymous"
	}

	entry := Entry{
		SubjectID:   subjectID,
		SubjectName: subjectName,
		Action:      ClassifyAction(r.Method, r.URL.Path),
		Resource:    ClassifyResource(r.URL.Path),
		ResourceID:  ExtractResourceID(r.URL.Path),
		Method:      r.Method,
		Path:        r.URL.Path,
		IP:          ClientIPFromRequest(r),
		UserAgent:   userAgent(r),
		StatusCode:  cw.status(),
		Duration:    rec.clock().Sub(start),
		CreatedAt:   start,
	}

	if mutating(r.Method) && len(reqBody) > 0 {
		entry.RequestBody = sanitizeBody(reqBody)
	}
	if entry.StatusCode >= 400 {
		entry.ErrMessage = errorMessage(cw.body.Bytes())
	}

	rec.publisher.Emit(entry)
}

// captureRequestBody reads up to maxCapturedBody bytes of the body for
// mutating methods and splices the read bytes back so handlers see the full
// stream untouched.
func (rec *Recorder) captureRequestBody(r *http.Request) []byte {
	if !mutating(r.Method) || r.Body == nil {
		return nil
	}
	buf := make([]byte, maxCapturedBody)
	n, _ := io.ReadFull(r.Body, buf)
	captured := buf[:n]
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(captured), r.Body), r.Body}
	return captured
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// sanitizeBody decodes the captured JSON and redacts it. Bodies that are not
// valid JSON are not attached; a partial capture of a huge body is likewise
// dropped rather than attached corrupted.
func sanitizeBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return Redact(v)
}

// errorMessage pulls a human-readable message out of an error response body:
// the error (or message) field of a structured body, else the raw text
// truncated to maxErrMessage characters.
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var structured map[string]any
	if err := json.Unmarshal(body, &structured); err == nil {
		for _, key := range []string{"error", "message"} {
			if s, ok := structured[key].(string); ok && s != "" {
				return truncate(s, maxErrMessage)
			}
		}
	}
	return truncate(string(body), maxErrMessage)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ClientIPFromRequest resolves the caller address behind proxies: first
// X-Forwarded-For hop, then X-Real-IP, then the raw connection address.
// Shared with the client-metadata middleware so both report the same IP.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "unknown"
}

// captureWriter records the status code and response body as they are
// emitted. The first WriteHeader wins when a handler emits more than once.
type captureWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.code = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.code = http.StatusOK
	}
	if w.body.Len() < maxCapturedBody {
		remain := maxCapturedBody - w.body.Len()
		if remain > len(b) {
			remain = len(b)
		}
		w.body.Write(b[:remain])
	}
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *captureWriter) status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.code
}
