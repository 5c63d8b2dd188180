package pipeline

import (
	"context"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

type SpacePublisher interface {
	PublishSpace(ctx context.Context, spaceID string, payload []byte) error
}

type relayMessage struct {
	spaceID string
	payload []byte
}

// Relay forwards local space broadcasts to other gateway instances. Enqueue
// never blocks; when the channel is full the message is dropped.
type Relay struct {
	ch  chan relayMessage
	pub SpacePublisher
	log domain.Logger
}

func NewRelay(pub SpacePublisher, size int, log domain.Logger) *Relay {
	return &Relay{
		ch:  make(chan relayMessage, size),
		pub: pub,
		log: log,
	}
}

func (r *Relay) Enqueue(spaceID string, payload []byte) {
	select {
	case r.ch <- relayMessage{spaceID: spaceID, payload: payload}:
	default:
		metrics.RelayDrops.Inc()
	}
}

func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case msg := <-r.ch:
			if err := r.pub.PublishSpace(ctx, msg.spaceID, msg.payload); err != nil {
				r.log.Error("space relay publish failed", "space_id", msg.spaceID, "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
