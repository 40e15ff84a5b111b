package ingest

import (
	"context"
	"strings"

	"github.com/dunamismax/pixelvariants/internal/webhook"
)

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// WebhookNotifier posts an image.processed event. Without a URL it does
// nothing.
type WebhookNotifier struct {
	Client webhookSender
	URL    string
}

func (n WebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	if n.Client == nil || strings.TrimSpace(n.URL) == "" {
		return nil
	}
	payload := webhook.NewImageProcessed(notification.OriginalKey, notification.Keys)
	return n.Client.Send(ctx, n.URL, webhook.EventImageProcessed, payload)
}
