package notify

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/portal/internal/config"
)

const (
	BackendLog   = "log"
	BackendKafka = "kafka"
)

// NewModule provides the Notifier selected by notify.backend.
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(newNotifier),
	)
}

func newNotifier(lc fx.Lifecycle, config *config.AppConfig, log *zap.Logger) (Notifier, error) {
	switch config.Notify.Backend {
	case "", BackendLog:
		return NewLogNotifier(log), nil
	case BackendKafka:
		source := config.Notify.Source
		if source == "" {
			source = "portal"
		}
		n, err := NewKafkaNotifier(config.Kafka, source, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("closing kafka notifier")
				return n.Close()
			},
		})
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", config.Notify.Backend)
	}
}
