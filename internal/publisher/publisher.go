package publisher

import (
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/eventbus"
	"github.com/Checker-Finance/credpool/internal/metrics"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// Sink forwards pool events to an external system.
type Sink interface {
	Name() string
	Send(event model.PoolEvent) error
}

// Attach subscribes every sink to all pool events on the bus and returns how
// many handlers now receive them. Failures are logged and counted, never
// returned to the allocator.
func Attach(bus *eventbus.EventBus, logger *zap.Logger, sinks ...Sink) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		sink := s
		bus.Subscribe(eventbus.All, func(event model.PoolEvent) {
			start := time.Now()
			err := sink.Send(event)
			metrics.ObserveDuration(metrics.EventPublishLatency, start, sink.Name())
			if err != nil {
				metrics.IncEvent(sink.Name(), "error")
				logger.Error("publisher.send_failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", event.Type),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				return
			}
			metrics.IncEvent(sink.Name(), "ok")
			logger.Debug("publisher.send_success",
				zap.String("sink", sink.Name()),
				zap.String("event_type", event.Type),
				zap.String("credential_id", event.CredentialID),
			)
		})
		logger.Info("publisher.attached", zap.String("sink", sink.Name()))
	}
	return bus.SubscriberCount(eventbus.All)
}
