package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}
	publishedAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	publisher.clock = func() time.Time { return publishedAt }

	err = publisher.Deliver(ctx, services.Notification{
		ID:       "ntf_1",
		UserID:   "admin-1",
		Type:     domain.NotificationTypeOrder,
		Title:    "New order received",
		Message:  "Order ORD-2025-0001-000001 from Asha for ₹499.00",
		Link:     "/admin/orders/ord_1",
		Metadata: map[string]any{"orderId": "ord_1"},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload NotificationEnvelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.UserID != "admin-1" || payload.Link != "/admin/orders/ord_1" || !payload.PublishedAt.Equal(publishedAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_1" {
		t.Fatalf("expected order id attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "order" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubNotificationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationPublisher(nil); err == nil {
		t.Fatalf("expected nil topic to be rejected")
	}
}
