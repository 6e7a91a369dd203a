package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/pagination"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// NotificationRepository is an in-memory inbox.
type NotificationRepository struct {
	mu    sync.RWMutex
	items []domain.Notification
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

func (r *NotificationRepository) Insert(_ context.Context, notification domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, notification)
	return nil
}

func (r *NotificationRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	r.mu.RLock()
	var matched []domain.Notification
	for _, item := range r.items {
		if item.UserID == userID && cursor.After(item.CreatedAt, item.ID) {
			matched = append(matched, item)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page := domain.CursorPage[domain.Notification]{}
	if len(matched) > pager.PageSize {
		last := matched[pager.PageSize-1]
		page.NextPageToken = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		matched = matched[:pager.PageSize]
	}
	page.Items = matched
	return page, nil
}

// All returns every stored notification in insertion order.
func (r *NotificationRepository) All() []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Notification(nil), r.items...)
}
