package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	usersCollection     = "users"
	userStatsCollection = "userStats"
	adminRole           = "admin"
)

type userStatsDocument struct {
	TotalOrders int64     `firestore:"totalOrders"`
	TotalSpent  string    `firestore:"totalSpent"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type userDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Role  string `firestore:"role"`
}

func encodeUserStats(s domain.UserStats) userStatsDocument {
	return userStatsDocument{TotalOrders: s.TotalOrders, TotalSpent: s.TotalSpent.String(), UpdatedAt: s.UpdatedAt.UTC()}
}

func decodeUserStats(id string, doc userStatsDocument) domain.UserStats {
	return domain.UserStats{UserID: id, TotalOrders: doc.TotalOrders, TotalSpent: parseAmount(doc.TotalSpent), UpdatedAt: doc.UpdatedAt}
}

// UserStatsRepository keeps one statistics document per user, separate from the profile
// document so adjustments never contend with profile edits.
type UserStatsRepository struct {
	provider *pfirestore.Provider
	stats    *pfirestore.Collection[domain.UserStats, userStatsDocument]
	now      func() time.Time
}

var _ repositories.UserStatsRepository = (*UserStatsRepository)(nil)

func NewUserStatsRepository(provider *pfirestore.Provider) (*UserStatsRepository, error) {
	if provider == nil {
		return nil, errors.New("user stats repository requires firestore provider")
	}
	return &UserStatsRepository{
		provider: provider,
		stats:    pfirestore.NewCollection(provider, userStatsCollection, encodeUserStats, decodeUserStats),
		now:      time.Now,
	}, nil
}

func (r *UserStatsRepository) AdjustStats(ctx context.Context, userID string, deltaOrders int64, deltaSpent decimal.Decimal) (domain.UserStats, error) {
	const op = "userStats.adjust"
	ref, err := r.stats.Doc(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	var updated domain.UserStats
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current := domain.UserStats{UserID: userID, TotalSpent: decimal.Zero}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if current, err = r.stats.Decode(snap); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
		default:
			return err
		}

		current.TotalOrders = max(current.TotalOrders+deltaOrders, 0)
		current.TotalSpent = current.TotalSpent.Add(deltaSpent)
		if current.TotalSpent.IsNegative() {
			current.TotalSpent = decimal.Zero
		}
		current.UpdatedAt = r.now().UTC()
		if err := tx.Set(ref, r.stats.Encode(current)); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return domain.UserStats{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

func (r *UserStatsRepository) GetStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := r.stats.Get(ctx, userID)
	if pfirestore.IsNotFound(err) {
		return domain.UserStats{UserID: userID, TotalSpent: decimal.Zero}, nil
	}
	return stats, err
}

// AdminDirectory lists users whose profile role is admin.
type AdminDirectory struct {
	users *pfirestore.Collection[domain.AdminUser, userDocument]
}

var _ repositories.AdminDirectory = (*AdminDirectory)(nil)

func NewAdminDirectory(provider *pfirestore.Provider) (*AdminDirectory, error) {
	if provider == nil {
		return nil, errors.New("admin directory requires firestore provider")
	}
	decode := func(id string, doc userDocument) domain.AdminUser {
		return domain.AdminUser{ID: id, Name: doc.Name, Email: doc.Email}
	}
	encode := func(a domain.AdminUser) userDocument {
		return userDocument{Name: a.Name, Email: a.Email, Role: adminRole}
	}
	return &AdminDirectory{users: pfirestore.NewCollection(provider, usersCollection, encode, decode)}, nil
}

func (d *AdminDirectory) ListAdmins(ctx context.Context) ([]domain.AdminUser, error) {
	admins, err := d.users.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("role", "==", adminRole)
	})
	if err != nil {
		return nil, err
	}
	out := admins[:0]
	for _, admin := range admins {
		if strings.TrimSpace(admin.ID) != "" {
			out = append(out, admin)
		}
	}
	return out, nil
}
