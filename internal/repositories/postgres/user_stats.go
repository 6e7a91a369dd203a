package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	adjustStats = `INSERT INTO user_stats (user_id, total_orders, total_spent, updated_at)
VALUES ($1, GREATEST($2::bigint, 0), GREATEST($3::numeric, 0), now())
ON CONFLICT (user_id) DO UPDATE
SET total_orders = GREATEST(user_stats.total_orders + $2::bigint, 0),
    total_spent = GREATEST(user_stats.total_spent + $3::numeric, 0),
    updated_at = now()
RETURNING user_id, total_orders, total_spent::text, updated_at`

	selectStats = `SELECT user_id, total_orders, total_spent::text, updated_at FROM user_stats WHERE user_id = $1`
)

// UserStatsRepository is the PostgreSQL customer statistics ledger.
type UserStatsRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.UserStatsRepository = (*UserStatsRepository)(nil)

func NewUserStatsRepository(pool *pgxpool.Pool) *UserStatsRepository {
	return &UserStatsRepository{pool: pool}
}

func scanStats(row pgx.Row) (domain.UserStats, error) {
	var (
		s         domain.UserStats
		spent     string
		updatedAt time.Time
	)
	if err := row.Scan(&s.UserID, &s.TotalOrders, &spent, &updatedAt); err != nil {
		return domain.UserStats{}, err
	}
	parsed, err := decimal.NewFromString(spent)
	if err != nil {
		return domain.UserStats{}, err
	}
	s.TotalSpent = parsed
	s.UpdatedAt = updatedAt.UTC()
	return s, nil
}

func (r *UserStatsRepository) AdjustStats(ctx context.Context, userID string, deltaOrders int64, deltaSpent decimal.Decimal) (domain.UserStats, error) {
	stats, err := scanStats(r.pool.QueryRow(ctx, adjustStats, userID, deltaOrders, deltaSpent.String()))
	if err != nil {
		return domain.UserStats{}, wrapError("postgres.stats.adjust", err)
	}
	return stats, nil
}

func (r *UserStatsRepository) GetStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := scanStats(r.pool.QueryRow(ctx, selectStats, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserStats{UserID: userID, TotalSpent: decimal.Zero}, nil
	}
	if err != nil {
		return domain.UserStats{}, wrapError("postgres.stats.get", err)
	}
	return stats, nil
}
