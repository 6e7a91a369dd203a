package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const notificationIDPrefix = "ntf_"

// InboxSink stores notifications in the in-app inbox.
type InboxSink struct {
	repo  repositories.NotificationRepository
	clock func() time.Time
	newID func() string
}

// NewInboxSink builds a sink over the notification repository.
func NewInboxSink(repo repositories.NotificationRepository, clock func() time.Time) (*InboxSink, error) {
	if repo == nil {
		return nil, errors.New("inbox sink: notification repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &InboxSink{
		repo:  repo,
		clock: clock,
		newID: func() string { return ulid.Make().String() },
	}, nil
}

func (s *InboxSink) Deliver(ctx context.Context, notification Notification) error {
	if notification.ID == "" {
		notification.ID = notificationIDPrefix + s.newID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Insert(ctx, notification); err != nil {
		return fmt.Errorf("inbox sink: %w", err)
	}
	return nil
}

// FanoutSink delivers to every configured sink and joins the failures.
type FanoutSink []NotificationSink

func (f FanoutSink) Deliver(ctx context.Context, notification Notification) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotificationSinkFunc adapts a function to NotificationSink.
type NotificationSinkFunc func(ctx context.Context, notification Notification) error

func (f NotificationSinkFunc) Deliver(ctx context.Context, notification Notification) error {
	return f(ctx, notification)
}
