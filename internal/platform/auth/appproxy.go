package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/groupdiscount/api/internal/platform/httpx"
)

const (
	signatureParam = "signature"

	defaultClockSkew = 5 * time.Minute
)

// SecretProvider resolves shared secrets used for signature validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// StaticSecret returns a provider that always yields the given value.
func StaticSecret(value string) SecretProvider {
	return SecretProviderFunc(func(context.Context, string) (string, error) {
		if strings.TrimSpace(value) == "" {
			return "", errors.New("auth: secret is empty")
		}
		return value, nil
	})
}

// AppProxyValidator verifies Shopify app proxy request signatures. Shopify
// signs the sorted query parameters (minus the signature itself) with the
// app's shared secret and appends the hex digest as ?signature=.
type AppProxyValidator struct {
	provider   SecretProvider
	secretName string

	logger *zap.Logger
	now    func() time.Time

	clockSkew time.Duration

	secretOnce sync.Once
	secret     []byte
	secretErr  error
}

// AppProxyOption customises the validator.
type AppProxyOption func(*AppProxyValidator)

// WithAppProxyLogger overrides the validator logger.
func WithAppProxyLogger(logger *zap.Logger) AppProxyOption {
	return func(v *AppProxyValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithAppProxyClock injects a custom clock, primarily for tests.
func WithAppProxyClock(now func() time.Time) AppProxyOption {
	return func(v *AppProxyValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithAppProxyClockSkew adjusts the accepted timestamp skew.
func WithAppProxyClockSkew(d time.Duration) AppProxyOption {
	return func(v *AppProxyValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// NewAppProxyValidator builds a validator resolving the named secret lazily.
func NewAppProxyValidator(provider SecretProvider, secretName string, opts ...AppProxyOption) *AppProxyValidator {
	validator := &AppProxyValidator{
		provider:   provider,
		secretName: strings.TrimSpace(secretName),
		logger:     zap.NewNop(),
		now:        time.Now,
		clockSkew:  defaultClockSkew,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// RequireSignature rejects requests whose query string does not carry a valid
// app proxy signature. Requests with a stale timestamp parameter are rejected
// even when the digest matches.
func (v *AppProxyValidator) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			secret, err := v.loadSecret(ctx)
			if err != nil {
				v.logger.Warn("auth: app proxy secret unavailable", zap.Error(err))
				httpx.WriteFailure(ctx, w, http.StatusServiceUnavailable, "signature verification unavailable", nil)
				return
			}

			query := r.URL.Query()
			supplied := strings.TrimSpace(query.Get(signatureParam))
			if supplied == "" {
				httpx.WriteFailure(ctx, w, http.StatusUnauthorized, "signature missing", nil)
				return
			}

			signature, err := hex.DecodeString(supplied)
			if err != nil {
				httpx.WriteFailure(ctx, w, http.StatusUnauthorized, "signature invalid", nil)
				return
			}

			expected := computeSignature(secret, canonicalQuery(query))
			if !hmac.Equal(signature, expected) {
				httpx.WriteFailure(ctx, w, http.StatusUnauthorized, "signature verification failed", nil)
				return
			}

			if ts := strings.TrimSpace(query.Get("timestamp")); ts != "" {
				seconds, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					httpx.WriteFailure(ctx, w, http.StatusUnauthorized, "signature timestamp invalid", nil)
					return
				}
				if skew := v.now().Sub(time.Unix(seconds, 0)); skew > v.clockSkew || skew < -v.clockSkew {
					httpx.WriteFailure(ctx, w, http.StatusUnauthorized, "signature timestamp outside allowed window", nil)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (v *AppProxyValidator) loadSecret(ctx context.Context) ([]byte, error) {
	v.secretOnce.Do(func() {
		if v.provider == nil {
			v.secretErr = errors.New("auth: secret provider not configured")
			return
		}
		raw, err := v.provider.GetSecret(ctx, v.secretName)
		if err != nil {
			v.secretErr = err
			return
		}
		if strings.TrimSpace(raw) == "" {
			v.secretErr = errors.New("auth: secret is empty")
			return
		}
		v.secret = []byte(raw)
	})
	return v.secret, v.secretErr
}

// canonicalQuery rebuilds the signed payload: every parameter except the
// signature, rendered as key=v1,v2 and concatenated in key order without
// separators, per the app proxy contract.
func canonicalQuery(query map[string][]string) []byte {
	keys := make([]string, 0, len(query))
	for key := range query {
		if key == signatureParam {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(strings.Join(query[key], ","))
	}
	return []byte(builder.String())
}

func computeSignature(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

// SignQuery computes the hex signature for the supplied query values using
// the app proxy canonicalisation. Exposed for tests and local tooling.
func SignQuery(secret string, query map[string][]string) string {
	return hex.EncodeToString(computeSignature([]byte(secret), canonicalQuery(query)))
}
