package notify

import (
	"context"
	"errors"
	"time"

	"kisanmandi/pkg/realtime"
)

const EventNotificationCreated = "notification.created"

// PushNotifier publishes the notification on the recipient's user topic.
type PushNotifier struct {
	pub realtime.Publisher
}

func NewPushNotifier(pub realtime.Publisher) *PushNotifier {
	return &PushNotifier{pub: pub}
}

func (p *PushNotifier) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return p.pub.Publish(ctx, realtime.UserTopic(n.UserID), EventNotificationCreated, n)
}

// Fanout delivers each notification to every channel. One failing channel does not stop the rest.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, channel := range f {
		if err := channel.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
