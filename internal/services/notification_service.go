package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	defaultNotificationTimeout     = 5 * time.Second
	defaultNotificationConcurrency = 8
)

// NotificationServiceDeps bundles collaborators required to construct the notification dispatcher.
type NotificationServiceDeps struct {
	Sink        NotificationSink
	Admins      repositories.AdminDirectory
	Timeout     time.Duration
	Concurrency int
	Metrics     *Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	sink        NotificationSink
	admins      repositories.AdminDirectory
	timeout     time.Duration
	concurrency int
	metrics     *Metrics
	logger      func(context.Context, string, map[string]any)

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService builds a dispatcher that runs every delivery in the background, detached
// from the caller's cancellation and bounded by Timeout.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Sink == nil {
		return nil, errors.New("notification service: sink is required")
	}
	if deps.Admins == nil {
		return nil, errors.New("notification service: admin directory is required")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultNotificationConcurrency
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		sink:        deps.Sink,
		admins:      deps.Admins,
		timeout:     timeout,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

func (s *notificationService) NotifyUser(ctx context.Context, userID string, msg NotificationMessage) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}
	s.dispatch(ctx, func(ctx context.Context) {
		s.deliver(ctx, userID, msg)
	})
}

func (s *notificationService) NotifyAdmins(ctx context.Context, msg NotificationMessage) {
	s.dispatch(ctx, func(ctx context.Context) {
		listCtx, cancel := context.WithTimeout(ctx, s.timeout)
		admins, err := s.admins.ListAdmins(listCtx)
		cancel()
		if err != nil {
			s.metrics.NotificationFailed(ctx, string(msg.Type))
			s.logger(ctx, "notification.admins.list_failed", map[string]any{
				"title": msg.Title,
				"error": err.Error(),
			})
			return
		}

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, admin := range admins {
			g.Go(func() error {
				s.deliver(ctx, admin.ID, msg)
				return nil
			})
		}
		_ = g.Wait()
	})
}

// Close rejects further notifications and waits for in-flight ones until ctx is done.
func (s *notificationService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *notificationService) dispatch(parent context.Context, fn func(context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger(parent, "notification.dropped", map[string]any{"reason": "closed"})
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	ctx := context.WithoutCancel(parent)
	go func() {
		defer s.inflight.Done()
		fn(ctx)
	}()
}

func (s *notificationService) deliver(ctx context.Context, userID string, msg NotificationMessage) {
	if strings.TrimSpace(userID) == "" {
		return
	}
	notification := Notification{
		UserID:   userID,
		Type:     msg.Type,
		Title:    msg.Title,
		Message:  msg.Message,
		Link:     msg.Link,
		Metadata: maps.Clone(msg.Metadata),
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.sink.Deliver(ctx, notification); err != nil {
		s.metrics.NotificationFailed(ctx, string(msg.Type))
		s.logger(ctx, "notification.deliver.failed", map[string]any{
			"userId": userID,
			"title":  msg.Title,
			"error":  err.Error(),
		})
	}
}
