package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidShop   = errors.New("storage: shop id is required")
)

// SnapshotArchiver writes published configuration payloads to a Cloud Storage
// bucket. One object per publish keeps an audit trail of what was pushed to
// the shop metafield.
type SnapshotArchiver struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// ArchiverOption customises archiver behaviour.
type ArchiverOption func(*SnapshotArchiver)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ArchiverOption {
	return func(a *SnapshotArchiver) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewSnapshotArchiver constructs an archiver writing to the given bucket.
func NewSnapshotArchiver(client *storage.Client, bucket string, opts ...ArchiverOption) (*SnapshotArchiver, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}

	archiver := &SnapshotArchiver{
		client: client,
		bucket: strings.TrimSpace(bucket),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	return archiver, nil
}

// Archive stores the serialized configuration payload and returns the object name.
func (a *SnapshotArchiver) Archive(ctx context.Context, shopID string, payload []byte) (string, error) {
	object, err := SnapshotObjectName(shopID, a.now().UTC())
	if err != nil {
		return "", err
	}

	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{"shopId": strings.TrimSpace(shopID)}

	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write snapshot %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: close snapshot %s: %w", object, err)
	}
	return object, nil
}

// SnapshotObjectName builds the bucket path for a shop's snapshot at the
// given instant. Shops are grouped by id; objects sort chronologically.
func SnapshotObjectName(shopID string, at time.Time) (string, error) {
	trimmed := strings.TrimSpace(shopID)
	if trimmed == "" {
		return "", errInvalidShop
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, trimmed)
	return fmt.Sprintf("group-discounts/%s/%s.json", safe, at.UTC().Format("20060102T150405.000000000Z")), nil
}
