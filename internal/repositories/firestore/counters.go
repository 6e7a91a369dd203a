package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository with a transactional increment.
type CounterRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider}, nil
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, counterID, errors.New("counter id is required"))
	}
	if step <= 0 {
		step = 1
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	ref := client.Collection(countersCollection).Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
		default:
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = doc.CurrentValue
		return nil
	})
	if err != nil {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorUnknown, id, pfirestore.WrapError(op, err))
	}
	return next, nil
}
