package pipeline

import (
	"context"
	"fmt"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
	"fleet-monitor/realtime/internal/notify"
)

const (
	DefaultNearbyRadiusMeters = 400.0
	defaultStopName           = "your stop"
)

type Renderer interface {
	Render(typ notify.Type, lang string, params map[string]string) notify.Message
}

// ProximityEngine notifies subscribers whose stop is within radius of a
// vehicle, at most once per subscriber and vehicle until the subscriber's
// last-notified flag changes. The persisted flag is the only dedup state.
type ProximityEngine struct {
	subscribers domain.SubscriberStore
	push        domain.PushGateway
	renderer    Renderer
	radius      float64
	log         domain.Logger
}

func NewProximityEngine(
	subscribers domain.SubscriberStore,
	push domain.PushGateway,
	renderer Renderer,
	radiusMeters float64,
	log domain.Logger,
) *ProximityEngine {
	if radiusMeters <= 0 {
		radiusMeters = DefaultNearbyRadiusMeters
	}
	return &ProximityEngine{
		subscribers: subscribers,
		push:        push,
		renderer:    renderer,
		radius:      radiusMeters,
		log:         log,
	}
}

// Evaluate dispatches a BUS_NEARBY push to every eligible subscriber on the
// route and returns how many dispatches were attempted. The boundary is
// inclusive: a stop exactly radius meters away is nearby.
func (e *ProximityEngine) Evaluate(ctx context.Context, vehicleID, label string, pos domain.Coordinate, routeID string) (int, error) {
	candidates, err := e.subscribers.FindByRoute(ctx, routeID)
	if err != nil {
		return 0, fmt.Errorf("find subscribers for route %s: %w", routeID, err)
	}

	attempted := 0
	for _, sub := range candidates {
		if !sub.Reachable() {
			continue
		}
		if sub.LastNotifiedVehicleID == vehicleID {
			continue
		}
		if Distance(pos, *sub.StopLocation) > e.radius {
			continue
		}
		// Only the evaluation that changes the flag dispatches.
		marked, err := e.subscribers.MarkNotified(ctx, sub.ID, vehicleID)
		if err != nil {
			e.log.Error("failed to persist last notified vehicle", "subscriber_id", sub.ID,
				"vehicle_id", vehicleID, "error", err)
			continue
		}
		if !marked {
			continue
		}

		e.notify(ctx, sub, vehicleID, label)
		attempted++
	}
	return attempted, nil
}

func (e *ProximityEngine) notify(ctx context.Context, sub domain.Subscriber, vehicleID, label string) {
	stopName := sub.StopName
	if stopName == "" {
		stopName = defaultStopName
	}
	msg := e.renderer.Render(notify.BusNearby, notify.Language(sub.Language), map[string]string{
		"busNumber": label,
		"stopName":  stopName,
	})

	data := map[string]string{
		"type":   string(notify.BusNearby),
		"busId":  vehicleID,
		"stopId": sub.StopID,
	}
	if e.push.SendToDevice(ctx, sub.PushAddress, msg.Title, msg.Body, data) {
		metrics.PushDispatches.WithLabelValues("sent").Inc()
		e.log.Info("bus nearby notification sent", "subscriber_id", sub.ID, "vehicle_id", vehicleID, "bus", label)
	} else {
		metrics.PushDispatches.WithLabelValues("failed").Inc()
		e.log.Warn("bus nearby notification not delivered", "subscriber_id", sub.ID,
			"vehicle_id", vehicleID, "error", domain.ErrDispatchFailure)
	}
}

// ResetVehicle clears the last-notified flag of every subscriber that was
// notified about vehicleID, typically when its trip ends, so the next
// approach notifies again.
func (e *ProximityEngine) ResetVehicle(ctx context.Context, vehicleID string) (int64, error) {
	n, err := e.subscribers.ClearLastNotified(ctx, vehicleID)
	if err != nil {
		return 0, fmt.Errorf("clear last notified for vehicle %s: %w", vehicleID, err)
	}
	return n, nil
}
