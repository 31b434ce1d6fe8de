package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/groupdiscount/api/internal/platform/auth"
	"github.com/groupdiscount/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.headerName = trimmed
		}
	}
}

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays stored responses for repeated mutating requests carrying
// the same idempotency key. Requests without the header pass straight through;
// the key is opt-in for callers that retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteFailure(r.Context(), w, http.StatusInternalServerError, "unable to read request body", nil)
				return
			}

			scoped := scopedKey(key, requesterID(r))
			fingerprint := requestFingerprint(r, body)
			now := cfg.clock().UTC()

			claim, err := store.Claim(r.Context(), scoped, fingerprint, now, cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteFailure(r.Context(), w, http.StatusConflict, "idempotency key already used for a different request", nil)
					return
				}
				cfg.logger.Error("idempotency: claim failed", zap.Error(err))
				httpx.WriteFailure(r.Context(), w, http.StatusInternalServerError, "unable to process idempotency key", nil)
				return
			}

			switch claim.State {
			case StateReplay:
				writeStoredResponse(w, claim.Record)
				return
			case StateInFlight:
				httpx.WriteFailure(r.Context(), w, http.StatusConflict, "another request is processing this idempotency key", nil)
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			response := Response{
				Status:  recorder.status(),
				Headers: recorder.headerSnapshot(),
				Body:    recorder.bodyBytes(),
			}
			if err := store.Complete(r.Context(), scoped, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.logger.Error("idempotency: failed to persist response", zap.String("key", key), zap.Error(err))
				if releaseErr := store.Release(r.Context(), scoped); releaseErr != nil {
					cfg.logger.Error("idempotency: failed to release key", zap.String("key", key), zap.Error(releaseErr))
				}
			}

			if err := recorder.commit(); err != nil {
				cfg.logger.Warn("idempotency: failed to flush response", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte) string {
	builder := strings.Builder{}
	builder.WriteString(strings.ToUpper(r.Method))
	builder.WriteString("|")
	builder.WriteString(r.URL.Path)
	builder.WriteString("|")
	builder.WriteString(r.URL.RawQuery)
	builder.WriteString("|")
	if len(body) > 0 {
		builder.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(builder.String()))
}

func requesterID(r *http.Request) string {
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func scopedKey(key, identity string) string {
	return strings.TrimSpace(key) + "|" + identity
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	code   int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if code <= 0 {
		code = http.StatusOK
	}
	r.code = code
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *responseRecorder) bodyBytes() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) headerSnapshot() http.Header {
	dst := make(http.Header, len(r.header))
	for key, values := range r.header {
		dst[key] = append([]string(nil), values...)
	}
	return dst
}

func (r *responseRecorder) commit() error {
	dst := r.parent.Header()
	for key, values := range r.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	r.parent.WriteHeader(r.status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
