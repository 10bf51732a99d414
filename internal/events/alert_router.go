package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// AlertEvent wraps a types.Alert for delivery over the bus.
type AlertEvent struct {
	BaseEvent
	Alert types.Alert
}

// AlertRouter implements interfaces.AlertRouter on top of an EventBus,
// letting multiple independent subscribers (the default logger, plus any
// handler added through Subscribe) observe the same alert
// stream instead of each alert needing its own fan-out call site.
type AlertRouter struct {
	bus    *EventBus
	logger *zap.Logger
}

// NewAlertRouter builds an AlertRouter over bus and registers the default
// structured-logging subscriber.
func NewAlertRouter(logger *zap.Logger, bus *EventBus) *AlertRouter {
	r := &AlertRouter{bus: bus, logger: logger.Named("alert_router")}
	bus.Subscribe(EventTypeAlert, r.logAlert)
	return r
}

// Publish satisfies interfaces.AlertRouter, publishing alert on the bus.
func (r *AlertRouter) Publish(_ context.Context, alert types.Alert) error {
	r.bus.Publish(&AlertEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeAlert, Timestamp: time.Now()},
		Alert:     alert,
	})
	return nil
}

func (r *AlertRouter) logAlert(event Event) error {
	alertEvent, ok := event.(*AlertEvent)
	if !ok {
		return nil
	}
	alert := alertEvent.Alert

	level := r.logger.Info
	switch alert.Severity {
	case types.AlertWarning:
		level = r.logger.Warn
	case types.AlertCritical:
		level = r.logger.Error
	}
	level("alert",
		zap.String("id", alert.ID),
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
	)
	return nil
}

// Subscribe registers an additional handler for alert events alongside the
// default log subscriber.
func (r *AlertRouter) Subscribe(handler func(types.Alert)) {
	r.bus.Subscribe(EventTypeAlert, func(event Event) error {
		if alertEvent, ok := event.(*AlertEvent); ok {
			handler(alertEvent.Alert)
		}
		return nil
	})
}

// Stats exposes the underlying bus's throughput/latency counters.
func (r *AlertRouter) Stats() EventBusStats {
	return r.bus.Stats()
}

// Stop shuts down the underlying event bus.
func (r *AlertRouter) Stop() {
	r.bus.Stop()
}
