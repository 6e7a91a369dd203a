// Package jobs hands work to asynchronous consumers over Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

// NotificationEnvelope is the message body consumed by push/email workers.
type NotificationEnvelope struct {
	NotificationID string         `json:"notificationId,omitempty"`
	UserID         string         `json:"userId"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Link           string         `json:"link,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	PublishedAt    time.Time      `json:"publishedAt"`
}

// PubSubNotificationPublisher forwards notifications to a topic so out-of-process workers can
// deliver them over other channels.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

var _ services.NotificationSink = (*PubSubNotificationPublisher)(nil)

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification sink.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
		clock:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Deliver publishes the notification and waits for the server acknowledgement.
func (p *PubSubNotificationPublisher) Deliver(ctx context.Context, notification services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(NotificationEnvelope{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Type:           string(notification.Type),
		Title:          notification.Title,
		Message:        notification.Message,
		Link:           notification.Link,
		Metadata:       notification.Metadata,
		PublishedAt:    p.clock(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "userId", notification.UserID)
	setAttr(attrs, "type", string(notification.Type))
	if orderID, ok := notification.Metadata["orderId"].(string); ok {
		setAttr(attrs, "orderId", orderID)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
