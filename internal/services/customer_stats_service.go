package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// CustomerStatsServiceDeps bundles collaborators required to construct the statistics service.
type CustomerStatsServiceDeps struct {
	Stats repositories.UserStatsRepository
}

type customerStatsService struct {
	stats repositories.UserStatsRepository
}

// NewCustomerStatsService wires the statistics ledger.
func NewCustomerStatsService(deps CustomerStatsServiceDeps) (CustomerStatsService, error) {
	if deps.Stats == nil {
		return nil, errors.New("customer stats service: stats repository is required")
	}
	return &customerStatsService{stats: deps.Stats}, nil
}

func (s *customerStatsService) RecordOrder(ctx context.Context, userID string, total decimal.Decimal) error {
	return s.adjust(ctx, userID, 1, total)
}

func (s *customerStatsService) ReverseOrder(ctx context.Context, userID string, total decimal.Decimal) error {
	return s.adjust(ctx, userID, -1, total.Neg())
}

func (s *customerStatsService) Get(ctx context.Context, userID string) (UserStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserStats{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	stats, err := s.stats.GetStats(ctx, userID)
	if err != nil {
		return UserStats{}, mapStatsError(err)
	}
	return stats, nil
}

func (s *customerStatsService) adjust(ctx context.Context, userID string, deltaOrders int64, deltaSpent decimal.Decimal) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if _, err := s.stats.AdjustStats(ctx, userID, deltaOrders, deltaSpent); err != nil {
		return mapStatsError(err)
	}
	return nil
}

func mapStatsError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: stats: %v", ErrServiceUnavailable, err)
	}
	return fmt.Errorf("stats: %w", err)
}
