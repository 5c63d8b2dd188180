package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

// LocationBuffer is the write-behind stage between live location events and
// the location history table. It keeps only the latest record per vehicle;
// positions overwritten between two flushes are never persisted.
type LocationBuffer struct {
	mu      sync.Mutex
	pending map[string]domain.BufferedLocationRecord

	store    domain.LocationStore
	interval time.Duration
	log      domain.Logger
}

const DefaultFlushInterval = 10 * time.Second

func NewLocationBuffer(store domain.LocationStore, interval time.Duration, log domain.Logger) *LocationBuffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &LocationBuffer{
		pending:  make(map[string]domain.BufferedLocationRecord),
		store:    store,
		interval: interval,
		log:      log,
	}
}

// Stage replaces the pending record for the vehicle.
func (b *LocationBuffer) Stage(rec domain.BufferedLocationRecord) {
	b.mu.Lock()
	b.pending[rec.VehicleID] = rec
	b.mu.Unlock()
	metrics.BufferStaged.Inc()
}

// Pending returns copies of the pending records for the given vehicles.
func (b *LocationBuffer) Pending(vehicleIDs []string) map[string]domain.BufferedLocationRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]domain.BufferedLocationRecord)
	for _, id := range vehicleIDs {
		if rec, ok := b.pending[id]; ok {
			out[id] = rec
		}
	}
	return out
}

func (b *LocationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// drain swaps the pending map for an empty one under the lock, so a Stage
// racing with a flush lands either in this batch or in the next one.
func (b *LocationBuffer) drain() []domain.BufferedLocationRecord {
	b.mu.Lock()
	pending := b.pending
	if len(pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.pending = make(map[string]domain.BufferedLocationRecord, len(pending))
	b.mu.Unlock()

	batch := make([]domain.BufferedLocationRecord, 0, len(pending))
	for _, rec := range pending {
		batch = append(batch, rec)
	}
	return batch
}

type FlushResult struct {
	Attempted int
	Failed    int
}

// Flush drains the buffer and writes it as one unordered bulk insert.
// Failed records are logged and dropped.
func (b *LocationBuffer) Flush(ctx context.Context) FlushResult {
	batch := b.drain()
	if len(batch) == 0 {
		return FlushResult{}
	}

	start := time.Now()
	defer func() { metrics.FlushLatency.Observe(time.Since(start).Seconds()) }()

	res := FlushResult{Attempted: len(batch)}
	errs, err := b.store.BulkInsert(ctx, batch)
	if err != nil {
		b.log.Error("location flush failed", "records", len(batch),
			"error", fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err))
		metrics.FlushFailures.Add(float64(len(batch)))
		res.Failed = len(batch)
		return res
	}

	for i, recErr := range errs {
		if recErr == nil {
			continue
		}
		res.Failed++
		b.log.Error("location record dropped", "vehicle_id", batch[i].VehicleID,
			"error", fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, recErr))
	}
	metrics.FlushFailures.Add(float64(res.Failed))
	metrics.FlushedRecords.Add(float64(res.Attempted - res.Failed))
	b.log.Info("flushed buffered locations", "records", res.Attempted, "failed", res.Failed)
	return res
}

// Run flushes on every tick until ctx is cancelled, then performs one final
// flush bounded by the flush interval.
func (b *LocationBuffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush(ctx)

		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), b.interval)
			b.Flush(finalCtx)
			cancel()
			return
		}
	}
}
