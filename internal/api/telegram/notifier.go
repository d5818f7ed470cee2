package telegram

import (
	"context"

	tele "gopkg.in/telebot.v3"

	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
)

var _ model.Notifier = (*Notifier)(nil)

// sender is the slice of the bot API the notifier needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier delivers reconciler notifications as direct messages. Delivery is
// best-effort: a user who blocked the bot must not stall reconciliation.
type Notifier struct {
	api    sender
	logger *logger.Logger
}

func NewNotifier(api sender, logger *logger.Logger) *Notifier {
	return &Notifier{
		api:    api,
		logger: logger,
	}
}

func (n *Notifier) Notify(ctx context.Context, notification model.Notification) {
	text := renderNotification(notification)
	if text == "" {
		n.logger.Error("Notifier: unknown notification kind",
			"account_id", notification.AccountID,
			"kind", string(notification.Kind))
		return
	}

	if _, err := n.api.Send(tele.ChatID(notification.AccountID), text); err != nil {
		n.logger.Error("Notifier: failed to deliver notification",
			"account_id", notification.AccountID,
			"kind", string(notification.Kind),
			"error", err.Error())
	}
}
