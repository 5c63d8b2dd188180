package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

const (
	EventJoinSpace       = "join_space"
	EventUpdateLocation  = "update_location"
	EventEndTrip         = "end_trip"
	EventBusListUpdated  = "bus_list_updated"
	EventUserListUpdated = "user_list_updated"

	EventLocationUpdated = "location_updated"
	EventTripEnded       = "trip_ended"
	EventError           = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinSpaceRequest struct {
	SpaceID string `json:"spaceId" validate:"required"`
}

type EndTripRequest struct {
	VehicleID string `json:"vehicleId" validate:"required"`
}

type TripEnded struct {
	VehicleID string `json:"vehicleId"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func presenceEvent(role domain.Role) string {
	return string(role) + "_status_update"
}

func encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// HandleFrame decodes one inbound frame and routes it. A malformed frame is
// answered with an error event; it never closes the connection.
func (g *Gateway) HandleFrame(ctx context.Context, conn *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.reject(conn, "", fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err))
		return
	}

	var err error
	switch env.Event {
	case EventJoinSpace:
		var req JoinSpaceRequest
		if err = g.decode(env.Data, &req); err == nil {
			err = g.JoinSpace(ctx, conn.ID, req.SpaceID)
		}

	case EventUpdateLocation:
		var ev domain.LocationEvent
		if err = g.decode(env.Data, &ev); err == nil {
			err = g.UpdateLocation(conn.ID, ev)
		}

	case EventEndTrip:
		var req EndTripRequest
		if err = g.decode(env.Data, &req); err == nil {
			err = g.EndTrip(ctx, conn.ID, req.VehicleID)
		}

	case EventBusListUpdated, EventUserListUpdated:
		err = g.RelayToTenant(conn.ID, env.Event)

	default:
		err = fmt.Errorf("%w: unknown event %q", domain.ErrInvalidEvent, env.Event)
	}

	if err != nil {
		g.reject(conn, env.Event, err)
	}
}

func (g *Gateway) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrInvalidEvent)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	if err := g.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	return nil
}

func (g *Gateway) reject(conn *Conn, event string, err error) {
	metrics.InvalidEvents.Inc()
	g.log.Warn("inbound event rejected", "conn_id", conn.ID, "event", event, "error", err)
	if frame, encErr := encode(EventError, ErrorMessage{Message: err.Error()}); encErr == nil {
		conn.enqueue(frame)
	}
}
