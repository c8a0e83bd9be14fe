package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log. Used in development and
// wherever no sink is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	n.log.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.Strings("recipients", msg.Recipients),
		zap.String("subject", msg.Subject),
		zap.Any("data", redacted(msg.Data)))
	return nil
}
