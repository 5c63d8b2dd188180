package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/realtime/internal/config"
	"fleet-monitor/realtime/internal/domain"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresStore backs VehicleStore, SubscriberStore and LocationStore.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{db: pool, pool: pool}, nil
}

func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// ── vehicles ────────────────────────────────────────────────

func (s *PostgresStore) FindByID(ctx context.Context, id string) (domain.VehicleMeta, error) {
	var (
		m       domain.VehicleMeta
		routeID *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, label, route_id, space_id
		FROM vehicles
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Label, &routeID, &m.SpaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VehicleMeta{}, fmt.Errorf("vehicle %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.VehicleMeta{}, fmt.Errorf("find vehicle %s: %w", id, err)
	}
	if routeID != nil {
		m.RouteID = *routeID
	}
	return m, nil
}

func (s *PostgresStore) ListActiveBySpace(ctx context.Context, spaceID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM vehicles
		WHERE space_id = $1 AND is_active
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles for space %s: %w", spaceID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan vehicles for space %s: %w", spaceID, err)
	}
	return ids, nil
}

// ── subscribers ─────────────────────────────────────────────

func (s *PostgresStore) FindByRoute(ctx context.Context, routeID string) ([]domain.Subscriber, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, route_id, COALESCE(stop_id, ''), COALESCE(stop_name, ''),
		       stop_lat, stop_lng, push_token, COALESCE(language, ''),
		       COALESCE(last_notified_vehicle_id, '')
		FROM subscribers
		WHERE route_id = $1
		  AND stop_lat IS NOT NULL AND stop_lng IS NOT NULL
		  AND push_token IS NOT NULL AND push_token <> ''
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("find subscribers for route %s: %w", routeID, err)
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Subscriber, error) {
		var (
			sub      domain.Subscriber
			lat, lng float64
		)
		err := row.Scan(&sub.ID, &sub.RouteID, &sub.StopID, &sub.StopName,
			&lat, &lng, &sub.PushAddress, &sub.Language, &sub.LastNotifiedVehicleID)
		sub.StopLocation = &domain.Coordinate{Lat: lat, Lng: lng}
		return sub, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan subscribers for route %s: %w", routeID, err)
	}
	return subs, nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, subscriberID, vehicleID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscribers SET last_notified_vehicle_id = $2
		WHERE id = $1 AND last_notified_vehicle_id IS DISTINCT FROM $2
	`, subscriberID, vehicleID)
	if err != nil {
		return false, fmt.Errorf("mark notified for %s: %w", subscriberID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClearLastNotified(ctx context.Context, vehicleID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscribers SET last_notified_vehicle_id = NULL
		WHERE last_notified_vehicle_id = $1
	`, vehicleID)
	if err != nil {
		return 0, fmt.Errorf("clear last notified for vehicle %s: %w", vehicleID, err)
	}
	return tag.RowsAffected(), nil
}

// ── location history ────────────────────────────────────────

var locationColumns = []string{
	"vehicle_id",
	"latitude",
	"longitude",
	"speed",
	"heading",
	"recorded_at",
}

const insertLocationSQL = `
	INSERT INTO vehicle_locations (vehicle_id, latitude, longitude, speed, heading, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

func locationRow(r domain.BufferedLocationRecord) []any {
	return []any{r.VehicleID, r.Location.Lat, r.Location.Lng, r.Speed, r.Heading, r.RecordedAt}
}

// BulkInsert writes the batch with COPY. If COPY rejects the batch, each
// record is inserted on its own so one bad row only costs itself.
func (s *PostgresStore) BulkInsert(ctx context.Context, recs []domain.BufferedLocationRecord) ([]error, error) {
	errs := make([]error, len(recs))
	if len(recs) == 0 {
		return errs, nil
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = locationRow(r)
	}

	_, err := s.db.CopyFrom(ctx, pgx.Identifier{"vehicle_locations"}, locationColumns, pgx.CopyFromRows(rows))
	if err == nil {
		return errs, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("CopyFrom failed for batch of %d: %w", len(recs), err)
	}

	for i, r := range recs {
		if _, err := s.db.Exec(ctx, insertLocationSQL, locationRow(r)...); err != nil {
			errs[i] = fmt.Errorf("insert location for %s: %w", r.VehicleID, err)
		}
	}
	return errs, nil
}

func (s *PostgresStore) LatestSince(ctx context.Context, vehicleIDs []string, since time.Time) ([]domain.BufferedLocationRecord, error) {
	if len(vehicleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (vehicle_id)
		       vehicle_id, latitude, longitude, speed, heading, recorded_at
		FROM vehicle_locations
		WHERE vehicle_id = ANY($1) AND recorded_at >= $2
		ORDER BY vehicle_id, recorded_at DESC
	`, vehicleIDs, since)
	if err != nil {
		return nil, fmt.Errorf("latest locations: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BufferedLocationRecord, error) {
		var r domain.BufferedLocationRecord
		err := row.Scan(&r.VehicleID, &r.Location.Lat, &r.Location.Lng, &r.Speed, &r.Heading, &r.RecordedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan latest locations: %w", err)
	}
	return recs, nil
}
