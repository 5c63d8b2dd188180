package domain

type VehicleMeta struct {
	ID      string
	Label   string
	RouteID string // empty when the vehicle has no route
	SpaceID string
}

func (m VehicleMeta) HasRoute() bool {
	return m.RouteID != ""
}

type Subscriber struct {
	ID                    string
	RouteID               string
	StopID                string
	StopName              string
	StopLocation          *Coordinate
	PushAddress           string
	Language              string
	LastNotifiedVehicleID string
}

// Reachable reports whether the subscriber can be a proximity candidate.
func (s Subscriber) Reachable() bool {
	return s.StopLocation != nil && s.PushAddress != ""
}
