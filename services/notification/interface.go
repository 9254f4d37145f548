package notification

import (
	"context"
	"fmt"

	"paylane/utils"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// Notifier is the event-notification hook fired on state transitions.
// Consumers (messaging, analytics) subscribe on their side; a notification
// failure never fails the transition that triggered it.
type Notifier interface {
	NotifyTransition(ctx context.Context, entityKind, entityID, status string, data map[string]string)
}

// FCMNotifier publishes transition notices to a per-entity FCM topic, e.g.
// "booking-3f2a..." for booking payment transitions. Clients subscribe to
// the topic while a payment flow is on screen.
type FCMNotifier struct {
	Logger *zap.Logger
}

func NewFCMNotifier(logger *zap.Logger) *FCMNotifier {
	return &FCMNotifier{Logger: logger}
}

func (n *FCMNotifier) NotifyTransition(ctx context.Context, entityKind, entityID, status string, data map[string]string) {
	if data == nil {
		data = map[string]string{}
	}
	data["kind"] = entityKind
	data["id"] = entityID
	data["status"] = status

	msg := &messaging.Message{
		Topic: fmt.Sprintf("%s-%s", entityKind, entityID),
		Notification: &messaging.Notification{
			Title: "Payment update",
			Body:  fmt.Sprintf("Status is now %s", status),
		},
		Data: data,
	}

	if _, err := utils.FCMClient.Send(ctx, msg); err != nil {
		n.Logger.Warn("failed to send transition notification",
			zap.String("kind", entityKind),
			zap.String("id", entityID),
			zap.Error(err))
	}
}
