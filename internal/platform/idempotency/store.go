package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is the default duration that idempotency records are retained.
const DefaultTTL = 24 * time.Hour

// State describes the outcome of claiming an idempotency key.
type State int

const (
	// StateNew means no prior claim exists and the caller may process the request.
	StateNew State = iota
	// StateReplay means a stored response exists and should be replayed.
	StateReplay
	// StateInFlight means another request is currently processing this key.
	StateInFlight
)

// Claim is the result of attempting to claim a key.
type Claim struct {
	State  State
	Record Record
}

// Record captures the persisted response for an idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Completed       bool
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the HTTP response stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency claims and completed responses.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused with a different request fingerprint.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request fingerprint")

func docID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if skipHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func skipHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
