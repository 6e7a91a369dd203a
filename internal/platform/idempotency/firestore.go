package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps keys in a Firestore collection so every instance shares them.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a Firestore-backed store. An empty collection uses the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}
}

type keyDocument struct {
	Key         string    `firestore:"key"`
	Fingerprint string    `firestore:"fingerprint"`
	Completed   bool      `firestore:"completed"`
	StatusCode  int       `firestore:"statusCode"`
	ContentType string    `firestore:"contentType"`
	Body        []byte    `firestore:"body"`
	ExpiresAt   time.Time `firestore:"expiresAt"`
}

func (d keyDocument) record() Record {
	return Record{
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		StatusCode:  d.StatusCode,
		ContentType: d.ContentType,
		Body:        d.Body,
		ExpiresAt:   d.ExpiresAt,
	}
}

func newKeyDocument(key string, r Record) keyDocument {
	return keyDocument{
		Key:         key,
		Fingerprint: r.Fingerprint,
		Completed:   r.Completed,
		StatusCode:  r.StatusCode,
		ContentType: r.ContentType,
		Body:        r.Body,
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}

	var (
		outcome Outcome
		result  Record
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *Record
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			record := doc.record()
			existing = &record
		}

		outcome, result, err = reserve(existing, fingerprint, now.UTC(), ttl)
		if err != nil || outcome != OutcomeNew {
			return err
		}
		return tx.Set(ref, newKeyDocument(key, result))
	})
	if err != nil {
		return 0, Record{}, err
	}
	return outcome, result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, record Record) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	record.Completed = true
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err == nil {
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != record.Fingerprint {
				return ErrFingerprintMismatch
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		return tx.Set(ref, newKeyDocument(key, record))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}
