package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	orderNumberPrefix  = "ORD"
	orderCounterPrefix = "orders"
	orderNumberSuffix  = 1_000_000
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs a service that formats order numbers on top of an atomic counter.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderNumber returns ORD-<year>-<sequence>-<time suffix>. The sequence restarts every year;
// the suffix is the last six digits of the epoch milliseconds.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	seq, err := s.repo.Next(ctx, fmt.Sprintf("%s:%d", orderCounterPrefix, now.Year()), 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return "", fmt.Errorf("counter: %w", err)
	}
	return FormatOrderNumber(now, seq), nil
}

// FormatOrderNumber renders an order number for the given creation time and sequence value.
func FormatOrderNumber(now time.Time, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d-%06d", orderNumberPrefix, now.Year(), seq, now.UnixMilli()%orderNumberSuffix)
}
