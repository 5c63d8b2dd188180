package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/realtime/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memLocationStore struct {
	mu       sync.Mutex
	batches  [][]domain.BufferedLocationRecord
	failIDs  map[string]bool
	bulkErr  error
	inserted int
}

func (s *memLocationStore) BulkInsert(_ context.Context, recs []domain.BufferedLocationRecord) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bulkErr != nil {
		return nil, s.bulkErr
	}
	cp := append([]domain.BufferedLocationRecord(nil), recs...)
	s.batches = append(s.batches, cp)

	errs := make([]error, len(recs))
	for i, r := range recs {
		if s.failIDs[r.VehicleID] {
			errs[i] = errors.New("check constraint violated")
			continue
		}
		s.inserted++
	}
	return errs, nil
}

func (s *memLocationStore) LatestSince(context.Context, []string, time.Time) ([]domain.BufferedLocationRecord, error) {
	return nil, nil
}

func (s *memLocationStore) all() []domain.BufferedLocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BufferedLocationRecord
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func record(vehicleID string, lat float64) domain.BufferedLocationRecord {
	return domain.BufferedLocationRecord{
		VehicleID:  vehicleID,
		Location:   domain.Coordinate{Lat: lat, Lng: 80.4360},
		RecordedAt: time.Now(),
	}
}

func TestStageCoalescesPerVehicle(t *testing.T) {
	store := &memLocationStore{}
	buf := NewLocationBuffer(store, time.Hour, discardLogger())

	for i := 0; i < 5; i++ {
		buf.Stage(record("bus-1", 16.3+float64(i)/1000))
	}
	buf.Stage(record("bus-2", 17))

	require.Equal(t, 2, buf.Len())
	pending := buf.Pending([]string{"bus-1", "bus-9"})
	require.Len(t, pending, 1)
	assert.InDelta(t, 16.304, pending["bus-1"].Location.Lat, 1e-9)

	res := buf.Flush(context.Background())
	assert.Equal(t, FlushResult{Attempted: 2}, res)
	assert.Equal(t, 0, buf.Len())

	written := store.all()
	require.Len(t, written, 2)
	for _, r := range written {
		if r.VehicleID == "bus-1" {
			assert.InDelta(t, 16.304, r.Location.Lat, 1e-9)
		}
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	store := &memLocationStore{}
	buf := NewLocationBuffer(store, time.Hour, discardLogger())

	assert.Equal(t, FlushResult{}, buf.Flush(context.Background()))
	assert.Empty(t, store.batches)
}

func TestFlushDropsFailedRecordsWithoutRetry(t *testing.T) {
	store := &memLocationStore{failIDs: map[string]bool{"bus-bad": true}}
	buf := NewLocationBuffer(store, time.Hour, discardLogger())

	buf.Stage(record("bus-1", 16.3))
	buf.Stage(record("bus-bad", 16.3))

	res := buf.Flush(context.Background())
	assert.Equal(t, FlushResult{Attempted: 2, Failed: 1}, res)
	assert.Equal(t, 1, store.inserted)

	assert.Equal(t, FlushResult{}, buf.Flush(context.Background()), "failed record is not requeued")
}

func TestFlushWholeBatchFailure(t *testing.T) {
	store := &memLocationStore{bulkErr: errors.New("pool closed")}
	buf := NewLocationBuffer(store, time.Hour, discardLogger())

	buf.Stage(record("bus-1", 16.3))
	buf.Stage(record("bus-2", 16.3))

	res := buf.Flush(context.Background())
	assert.Equal(t, FlushResult{Attempted: 2, Failed: 2}, res)
	assert.Equal(t, 0, buf.Len())
}

func TestStageDuringFlushLosesNothing(t *testing.T) {
	store := &memLocationStore{}
	buf := NewLocationBuffer(store, time.Hour, discardLogger())

	const vehicles = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < vehicles; i++ {
			buf.Stage(record(fmt.Sprintf("bus-%d", i), 16.3))
		}
	}()
	for i := 0; i < 20; i++ {
		buf.Flush(context.Background())
	}
	wg.Wait()
	buf.Flush(context.Background())

	seen := make(map[string]bool)
	for _, r := range store.all() {
		seen[r.VehicleID] = true
	}
	assert.Len(t, seen, vehicles)
}

func TestRunFlushesOnTickAndOnShutdown(t *testing.T) {
	store := &memLocationStore{}
	buf := NewLocationBuffer(store, 20*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Stage(record("bus-1", 16.3))
	require.Eventually(t, func() bool { return len(store.all()) == 1 }, time.Second, 5*time.Millisecond)

	buf.Stage(record("bus-2", 16.3))
	cancel()
	<-done

	assert.Len(t, store.all(), 2)
}

func TestRunWithNonPositiveIntervalUsesDefault(t *testing.T) {
	store := &memLocationStore{}
	buf := NewLocationBuffer(store, 0, discardLogger())
	assert.Equal(t, DefaultFlushInterval, buf.interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	buf.Stage(record("bus-1", 16.3))
	cancel()
	<-done
	assert.Len(t, store.all(), 1)
}
