package notify

import (
	"context"

	gfapp "locshare-cloud/internal/geofence/application"
)

// MultiNotifier dispatches notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []gfapp.Notifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...gfapp.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the notification to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, n gfapp.Notification) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
