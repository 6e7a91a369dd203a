package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// UserStatsRepository holds one independently locked aggregate per user.
type UserStatsRepository struct {
	mu    sync.Mutex
	stats map[string]*statsEntry
	now   func() time.Time
}

type statsEntry struct {
	mu    sync.Mutex
	stats domain.UserStats
}

var _ repositories.UserStatsRepository = (*UserStatsRepository)(nil)

func NewUserStatsRepository() *UserStatsRepository {
	return &UserStatsRepository{stats: make(map[string]*statsEntry), now: time.Now}
}

func (r *UserStatsRepository) entry(userID string) *statsEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.stats[userID]
	if !ok {
		entry = &statsEntry{stats: domain.UserStats{UserID: userID, TotalSpent: decimal.Zero}}
		r.stats[userID] = entry
	}
	return entry
}

func (r *UserStatsRepository) AdjustStats(_ context.Context, userID string, deltaOrders int64, deltaSpent decimal.Decimal) (domain.UserStats, error) {
	if userID == "" {
		return domain.UserStats{}, repositories.NotFound("memory.stats.adjust", "user id is required")
	}
	entry := r.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.stats.TotalOrders = max(entry.stats.TotalOrders+deltaOrders, 0)
	spent := entry.stats.TotalSpent.Add(deltaSpent)
	if spent.IsNegative() {
		spent = decimal.Zero
	}
	entry.stats.TotalSpent = spent
	entry.stats.UpdatedAt = r.now().UTC()
	return entry.stats, nil
}

func (r *UserStatsRepository) GetStats(_ context.Context, userID string) (domain.UserStats, error) {
	r.mu.Lock()
	entry, ok := r.stats[userID]
	r.mu.Unlock()
	if !ok {
		return domain.UserStats{UserID: userID, TotalSpent: decimal.Zero}, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.stats, nil
}
