package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotencyKeys"
	defaultMaxAttempts = 5
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection used for idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store backed by Cloud Firestore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Claim transactionally records the key as in-flight, or reports the existing claim.
func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))

	var result Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			record := claimDocument{
				Key:         key,
				Fingerprint: fingerprint,
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}
			if err := tx.Set(ref, record); err != nil {
				return err
			}
			result = Claim{State: StateNew, Record: record.toRecord()}
			return nil
		}

		var record claimDocument
		if err := snap.DataTo(&record); err != nil {
			return err
		}

		// Expired claims are reclaimed in place.
		if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
			record = claimDocument{
				Key:         key,
				Fingerprint: fingerprint,
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}
			if err := tx.Set(ref, record); err != nil {
				return err
			}
			result = Claim{State: StateNew, Record: record.toRecord()}
			return nil
		}

		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if record.Completed {
			result = Claim{State: StateReplay, Record: record.toRecord()}
			return nil
		}
		result = Claim{State: StateInFlight, Record: record.toRecord()}
		return nil
	}, firestore.MaxAttempts(defaultMaxAttempts))

	return result, err
}

// Complete stores the finished response for later replays.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))
	headers := storableHeaders(resp.Headers)
	body := append([]byte(nil), resp.Body...)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := claimDocument{
			Key:         key,
			Fingerprint: fingerprint,
			CreatedAt:   now,
		}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&record); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case status.Code(err) != codes.NotFound:
			return err
		}

		record.Completed = true
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = headers
		record.ResponseBody = body
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, record)
	}, firestore.MaxAttempts(defaultMaxAttempts))
}

// Release removes a claim so callers can retry after a failure.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(docID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

type claimDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (d claimDocument) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Completed:       d.Completed,
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
