package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/pagination"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	UserID    string         `firestore:"userId"`
	Type      string         `firestore:"type"`
	Title     string         `firestore:"title"`
	Message   string         `firestore:"message"`
	Link      string         `firestore:"link,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Read      bool           `firestore:"read"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// NotificationRepository stores the in-app inbox.
type NotificationRepository struct {
	items *pfirestore.Collection[domain.Notification, notificationDocument]
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	encode := func(n domain.Notification) notificationDocument {
		return notificationDocument{
			UserID: n.UserID, Type: string(n.Type), Title: n.Title, Message: n.Message,
			Link: n.Link, Metadata: n.Metadata, Read: n.Read, CreatedAt: n.CreatedAt.UTC(),
		}
	}
	decode := func(id string, doc notificationDocument) domain.Notification {
		return domain.Notification{
			ID: id, UserID: doc.UserID, Type: domain.NotificationType(doc.Type), Title: doc.Title,
			Message: doc.Message, Link: doc.Link, Metadata: doc.Metadata, Read: doc.Read, CreatedAt: doc.CreatedAt,
		}
	}
	return &NotificationRepository{items: pfirestore.NewCollection(provider, notificationsCollection, encode, decode)}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	ref, err := r.items.Doc(ctx, notification.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, r.items.Encode(notification)); err != nil {
		return pfirestore.WrapError("notifications.insert", err)
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	items, err := r.items.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pager.PageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	page := domain.CursorPage[domain.Notification]{}
	if len(items) > pager.PageSize {
		last := items[pager.PageSize-1]
		page.NextPageToken = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		items = items[:pager.PageSize]
	}
	page.Items = items
	return page, nil
}
