// Package gateway admits websocket clients into spaces and runs the live
// location pipeline: broadcast first, then buffering, then rate-limited
// proximity work off the caller's goroutine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/metrics"
)

const taskTimeout = 10 * time.Second

type MetadataResolver interface {
	Resolve(ctx context.Context, vehicleID string) (domain.VehicleMeta, bool, error)
}

type ProximityEvaluator interface {
	Evaluate(ctx context.Context, vehicleID, label string, pos domain.Coordinate, routeID string) (int, error)
	ResetVehicle(ctx context.Context, vehicleID string) (int64, error)
}

type RateLimiter interface {
	Consume(connID string) error
	Forget(connID string)
}

type Stager interface {
	Stage(rec domain.BufferedLocationRecord)
	Pending(vehicleIDs []string) map[string]domain.BufferedLocationRecord
}

type Relayer interface {
	Enqueue(spaceID string, payload []byte)
}

type Deps struct {
	Buffer    Stager
	Cache     MetadataResolver
	Limiter   RateLimiter
	Proximity ProximityEvaluator
	Vehicles  domain.VehicleStore
	Locations domain.LocationStore
	Relay     Relayer // nil disables cross-instance fan-out
	Log       domain.Logger
}

type Options struct {
	InstanceID     string
	SnapshotWindow time.Duration
	CoordPrecision int
	SendBufferSize int
}

// relayEnvelope is what travels between instances for one space broadcast.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

type Gateway struct {
	deps     Deps
	opts     Options
	log      domain.Logger
	validate *validator.Validate
	now      func() time.Time

	mu      sync.RWMutex
	conns   map[string]*Conn
	spaces  map[string]map[string]*Conn
	closing bool

	tasks sync.WaitGroup
}

func New(deps Deps, opts Options) *Gateway {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if opts.CoordPrecision <= 0 {
		opts.CoordPrecision = 5
	}
	if opts.SnapshotWindow <= 0 {
		opts.SnapshotWindow = 15 * time.Minute
	}
	return &Gateway{
		deps:     deps,
		opts:     opts,
		log:      deps.Log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		conns:    make(map[string]*Conn),
		spaces:   make(map[string]map[string]*Conn),
	}
}

// Connect admits a connection for an already verified identity. Operators
// announce themselves as online to their tenant space.
func (g *Gateway) Connect(identity *domain.Identity) (*Conn, error) {
	if !identity.Valid() {
		metrics.ConnectionsRejected.Inc()
		return nil, domain.ErrAuth
	}

	conn := newConn(uuid.NewString(), *identity, g.opts.SendBufferSize)

	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	// Personal room for direct messages.
	g.join(conn, identity.SubjectID)

	g.log.Info("connection admitted", "conn_id", conn.ID, "subject_id", identity.SubjectID,
		"role", identity.Role, "space_id", identity.SpaceID)

	if identity.Role.IsOperator() && identity.SpaceID != "" {
		g.broadcast(identity.SpaceID, conn.ID, presenceEvent(identity.Role), domain.PresenceUpdate{
			EntityID: identity.SubjectID,
			Status:   domain.StatusOnline,
		})
	}
	return conn, nil
}

// Disconnect removes the connection from every space. Staged locations are
// keyed by vehicle and stay in the buffer.
func (g *Gateway) Disconnect(connID string) {
	g.mu.Lock()
	conn, ok := g.conns[connID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, connID)
	for _, spaceID := range conn.takeSpaces() {
		members := g.spaces[spaceID]
		delete(members, connID)
		if len(members) == 0 {
			delete(g.spaces, spaceID)
		}
	}
	g.mu.Unlock()

	conn.close()
	g.deps.Limiter.Forget(connID)
	metrics.ConnectionsActive.Dec()
	g.log.Info("connection closed", "conn_id", connID, "subject_id", conn.Identity.SubjectID)

	if conn.Identity.Role.IsOperator() && conn.Identity.SpaceID != "" {
		g.broadcast(conn.Identity.SpaceID, connID, presenceEvent(conn.Identity.Role), domain.PresenceUpdate{
			EntityID: conn.Identity.SubjectID,
			Status:   domain.StatusOffline,
		})
	}
}

// JoinSpace adds the connection to the space and pushes it a snapshot of
// the space's vehicles: buffered positions first, then recent durable ones
// for vehicles with nothing buffered.
func (g *Gateway) JoinSpace(ctx context.Context, connID, spaceID string) error {
	conn, err := g.conn(connID)
	if err != nil {
		return err
	}
	g.join(conn, spaceID)
	g.log.Info("joined space", "conn_id", connID, "space_id", spaceID)

	updates, err := g.snapshot(ctx, spaceID)
	if err != nil {
		// Membership stands; the client still gets live updates.
		g.log.Error("snapshot failed", "conn_id", connID, "space_id", spaceID, "error", err)
		return nil
	}
	for _, u := range updates {
		frame, err := encode(EventLocationUpdated, u)
		if err != nil {
			continue
		}
		conn.enqueue(frame)
	}
	g.log.Info("snapshot sent", "conn_id", connID, "space_id", spaceID, "vehicles", len(updates))
	return nil
}

func (g *Gateway) snapshot(ctx context.Context, spaceID string) ([]domain.LocationUpdate, error) {
	vehicleIDs, err := g.deps.Vehicles.ListActiveBySpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	if len(vehicleIDs) == 0 {
		return nil, nil
	}

	buffered := g.deps.Buffer.Pending(vehicleIDs)
	updates := make([]domain.LocationUpdate, 0, len(vehicleIDs))
	missing := make([]string, 0, len(vehicleIDs))
	for _, id := range vehicleIDs {
		if rec, ok := buffered[id]; ok {
			updates = append(updates, rec.Update(spaceID))
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return updates, nil
	}

	since := g.now().Add(-g.opts.SnapshotWindow)
	durable, err := g.deps.Locations.LatestSince(ctx, missing, since)
	if err != nil {
		// Buffered positions are still worth sending.
		g.log.Error("recent locations lookup failed", "space_id", spaceID, "error", err)
		return updates, nil
	}
	for _, rec := range durable {
		if _, ok := buffered[rec.VehicleID]; ok {
			continue
		}
		updates = append(updates, rec.Update(spaceID))
	}
	return updates, nil
}

// UpdateLocation runs one operator location event through the pipeline.
// Only validation errors are returned; everything after the broadcast is
// logged and swallowed.
func (g *Gateway) UpdateLocation(connID string, ev domain.LocationEvent) error {
	if ev.Location == nil {
		return fmt.Errorf("%w: location is required", domain.ErrInvalidEvent)
	}
	if err := g.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidEvent, err)
	}
	if _, err := g.conn(connID); err != nil {
		return err
	}
	metrics.LocationUpdates.Inc()

	now := g.now()
	pos := ev.Location.Coordinate().Round(g.opts.CoordPrecision)
	speed, heading := valueOr(ev.Speed), valueOr(ev.Heading)
	ts := now
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}

	g.broadcast(ev.SpaceID, connID, EventLocationUpdated, domain.LocationUpdate{
		VehicleID: ev.VehicleID,
		SpaceID:   ev.SpaceID,
		Location:  pos,
		Speed:     speed,
		Heading:   heading,
		Timestamp: ts,
	})

	g.deps.Buffer.Stage(domain.BufferedLocationRecord{
		VehicleID:  ev.VehicleID,
		Location:   pos,
		Speed:      speed,
		Heading:    heading,
		RecordedAt: now,
	})

	if err := g.deps.Limiter.Consume(connID); err != nil {
		metrics.RateLimited.Inc()
		g.log.Info("proximity check rate limited", "conn_id", connID, "vehicle_id", ev.VehicleID, "error", err)
		return nil
	}

	g.spawn(func(ctx context.Context) {
		g.checkProximity(ctx, ev.VehicleID, pos)
	})
	return nil
}

// spawn runs fn on its own goroutine with the task timeout. It reports false
// once CloseAll has started; Add and the closing check share g.mu so Wait
// never races with a late Add.
func (g *Gateway) spawn(fn func(ctx context.Context)) bool {
	g.mu.RLock()
	if g.closing {
		g.mu.RUnlock()
		return false
	}
	g.tasks.Add(1)
	g.mu.RUnlock()

	go func() {
		defer g.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

func (g *Gateway) checkProximity(ctx context.Context, vehicleID string, pos domain.Coordinate) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PipelineErrors.WithLabelValues("panic").Inc()
			g.log.Error("proximity task panicked", "vehicle_id", vehicleID, "panic", r)
		}
	}()

	meta, ok, err := g.deps.Cache.Resolve(ctx, vehicleID)
	if err != nil {
		metrics.PipelineErrors.WithLabelValues("metadata").Inc()
		g.log.Error("vehicle metadata lookup failed", "vehicle_id", vehicleID, "error", err)
		return
	}
	if !ok {
		g.log.Debug("vehicle not found, skipping proximity", "vehicle_id", vehicleID)
		return
	}
	g.log.Debug("vehicle position", "vehicle_id", vehicleID, "bus", meta.Label, "lat", pos.Lat, "lng", pos.Lng)
	if !meta.HasRoute() {
		return
	}

	if _, err := g.deps.Proximity.Evaluate(ctx, vehicleID, meta.Label, pos, meta.RouteID); err != nil {
		metrics.PipelineErrors.WithLabelValues("proximity").Inc()
		g.log.Error("proximity evaluation failed", "vehicle_id", vehicleID, "route_id", meta.RouteID, "error", err)
	}
}

// EndTrip resets proximity dedup for the vehicle and tells the operator's
// tenant space that the trip is over.
func (g *Gateway) EndTrip(ctx context.Context, connID, vehicleID string) error {
	conn, err := g.conn(connID)
	if err != nil {
		return err
	}
	if !conn.Identity.Role.IsOperator() {
		return fmt.Errorf("%w: end_trip requires an operator connection", domain.ErrInvalidEvent)
	}

	cleared, err := g.deps.Proximity.ResetVehicle(ctx, vehicleID)
	if err != nil {
		metrics.PipelineErrors.WithLabelValues("reset").Inc()
		g.log.Error("trip end reset failed", "vehicle_id", vehicleID, "error", err)
	} else {
		g.log.Info("trip ended", "vehicle_id", vehicleID, "subscribers_reset", cleared)
	}

	if conn.Identity.SpaceID != "" {
		g.broadcast(conn.Identity.SpaceID, connID, EventTripEnded, TripEnded{VehicleID: vehicleID})
	}
	return nil
}

// RelayToTenant re-broadcasts a payload-less notice to the sender's tenant.
func (g *Gateway) RelayToTenant(connID, event string) error {
	conn, err := g.conn(connID)
	if err != nil {
		return err
	}
	if conn.Identity.SpaceID == "" {
		g.log.Info("relay ignored, identity has no tenant", "conn_id", connID, "event", event)
		return nil
	}
	g.broadcast(conn.Identity.SpaceID, connID, event, nil)
	return nil
}

// DeliverRemote hands a broadcast relayed by another instance to local
// members of the space. Messages this instance published are ignored.
func (g *Gateway) DeliverRemote(spaceID string, payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		g.log.Warn("bad relay payload", "space_id", spaceID, "error", err)
		return
	}
	if env.Origin == g.opts.InstanceID {
		return
	}
	g.deliver(spaceID, "", env.Frame)
}

// Wait blocks until every spawned proximity task has finished.
func (g *Gateway) Wait() {
	g.tasks.Wait()
}

// CloseAll disconnects every connection and stops new proximity tasks.
// Used on shutdown, before Wait.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	g.closing = true
	ids := make([]string, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.Disconnect(id)
	}
}

func (g *Gateway) Members(spaceID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.spaces[spaceID])
}

func (g *Gateway) conn(connID string) (*Conn, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[connID]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connID, domain.ErrNotFound)
	}
	return conn, nil
}

func (g *Gateway) join(conn *Conn, spaceID string) {
	g.mu.Lock()
	members, ok := g.spaces[spaceID]
	if !ok {
		members = make(map[string]*Conn)
		g.spaces[spaceID] = members
	}
	members[conn.ID] = conn
	g.mu.Unlock()
	conn.addSpace(spaceID)
}

// broadcast sends to every member of the space except the sender and hands
// the frame to the relay. It never waits on a peer.
func (g *Gateway) broadcast(spaceID, exceptConnID, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		g.log.Error("broadcast encode failed", "event", event, "error", err)
		return
	}
	g.deliver(spaceID, exceptConnID, frame)

	if g.deps.Relay != nil {
		payload, err := json.Marshal(relayEnvelope{Origin: g.opts.InstanceID, Frame: frame})
		if err == nil {
			g.deps.Relay.Enqueue(spaceID, payload)
		}
	}
}

func (g *Gateway) deliver(spaceID, exceptConnID string, frame []byte) {
	g.mu.RLock()
	members := make([]*Conn, 0, len(g.spaces[spaceID]))
	for id, c := range g.spaces[spaceID] {
		if id != exceptConnID {
			members = append(members, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range members {
		c.enqueue(frame)
	}
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// IsAuthError reports whether err should reject a handshake.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuth)
}
