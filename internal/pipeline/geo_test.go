package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-monitor/realtime/internal/domain"
)

func TestDistance(t *testing.T) {
	bus := domain.Coordinate{Lat: 16.3060, Lng: 80.4360}
	stop := domain.Coordinate{Lat: 16.3062, Lng: 80.4362}

	assert.InDelta(t, 30.8, Distance(bus, stop), 0.5)
	assert.Equal(t, 0.0, Distance(bus, bus))
	assert.InDelta(t, Distance(bus, stop), Distance(stop, bus), 1e-9)

	// One degree of latitude along a meridian.
	assert.InDelta(t, 111195, Distance(domain.Coordinate{}, domain.Coordinate{Lat: 1}), 1)
}
