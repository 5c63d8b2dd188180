package domain

import (
	"context"
	"time"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type VehicleStore interface {
	// FindByID returns ErrNotFound when the vehicle does not exist.
	FindByID(ctx context.Context, id string) (VehicleMeta, error)
	ListActiveBySpace(ctx context.Context, spaceID string) ([]string, error)
}

type SubscriberStore interface {
	// FindByRoute returns subscribers bound to the route that have a stop
	// location and a push address.
	FindByRoute(ctx context.Context, routeID string) ([]Subscriber, error)
	// MarkNotified sets the dedup flag to vehicleID unless it already holds
	// it, and reports whether this call changed it. Only the caller that
	// changed the flag may dispatch.
	MarkNotified(ctx context.Context, subscriberID, vehicleID string) (bool, error)
	// ClearLastNotified resets the dedup flag on every subscriber holding
	// vehicleID. Clearing a flag nobody holds is not an error.
	ClearLastNotified(ctx context.Context, vehicleID string) (int64, error)
}

type LocationStore interface {
	// BulkInsert returns one entry per record, nil on success. The error is
	// non-nil only when nothing could be attempted.
	BulkInsert(ctx context.Context, records []BufferedLocationRecord) ([]error, error)
	// LatestSince returns the newest record per vehicle recorded at or after since.
	LatestSince(ctx context.Context, vehicleIDs []string, since time.Time) ([]BufferedLocationRecord, error)
}

type PushGateway interface {
	SendToDevice(ctx context.Context, address, title, body string, data map[string]string) bool
	SendToDevices(ctx context.Context, addresses []string, title, body string, data map[string]string) (success, failure int)
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) bool
}
