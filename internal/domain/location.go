package domain

import (
	"math"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// Round truncates both axes to the given number of decimal places.
// Five places is roughly one meter at the equator.
func (c Coordinate) Round(places int) Coordinate {
	p := math.Pow(10, float64(places))
	return Coordinate{
		Lat: math.Round(c.Lat*p) / p,
		Lng: math.Round(c.Lng*p) / p,
	}
}

// Position is the wire form of a coordinate. Both axes are pointers so an
// absent lat or lng is rejected instead of decoding to 0.
type Position struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

// Coordinate converts a validated position. Missing axes read as 0.
func (p Position) Coordinate() Coordinate {
	var c Coordinate
	if p.Lat != nil {
		c.Lat = *p.Lat
	}
	if p.Lng != nil {
		c.Lng = *p.Lng
	}
	return c
}

// LocationEvent is the inbound update_location payload.
type LocationEvent struct {
	VehicleID string    `json:"vehicleId" validate:"required"`
	SpaceID   string    `json:"spaceId" validate:"required"`
	Location  *Position `json:"location" validate:"required"`
	Speed     *float64    `json:"speed,omitempty"`
	Heading   *float64    `json:"heading,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

type BufferedLocationRecord struct {
	VehicleID  string
	Location   Coordinate
	Speed      float64
	Heading    float64
	RecordedAt time.Time
}

// LocationUpdate is the outbound location_updated payload.
type LocationUpdate struct {
	VehicleID string     `json:"vehicleId"`
	SpaceID   string     `json:"spaceId"`
	Location  Coordinate `json:"location"`
	Speed     float64    `json:"speed"`
	Heading   float64    `json:"heading"`
	Timestamp time.Time  `json:"timestamp"`
}

func (r BufferedLocationRecord) Update(spaceID string) LocationUpdate {
	return LocationUpdate{
		VehicleID: r.VehicleID,
		SpaceID:   spaceID,
		Location:  r.Location,
		Speed:     r.Speed,
		Heading:   r.Heading,
		Timestamp: r.RecordedAt,
	}
}
