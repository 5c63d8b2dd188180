package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"fleet-monitor/realtime/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := config.Load()

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_tables(ctx, conn)
	step2_hypertable(ctx, conn)
	step3_indexes(ctx, conn)
	step4_fixtures(ctx, conn)
	step5_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — Tables
// ─────────────────────────────────────────────────────────────
func step1_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Tables ──────────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicles (
			id         TEXT    PRIMARY KEY,
			label      TEXT    NOT NULL,
			route_id   TEXT,
			space_id   TEXT    NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT true
		);
	`, "vehicles table created")

	// last_notified_vehicle_id is the proximity dedup flag; end_trip clears it
	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS subscribers (
			id                        TEXT PRIMARY KEY,
			route_id                  TEXT NOT NULL,
			stop_id                   TEXT,
			stop_name                 TEXT,
			stop_lat                  DOUBLE PRECISION,
			stop_lng                  DOUBLE PRECISION,
			push_token                TEXT,
			language                  TEXT NOT NULL DEFAULT 'en',
			last_notified_vehicle_id  TEXT
		);
	`, "subscribers table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_locations (
			vehicle_id   TEXT             NOT NULL,
			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,
			speed        DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading      DOUBLE PRECISION NOT NULL DEFAULT 0,
			recorded_at  TIMESTAMPTZ      NOT NULL,
			CONSTRAINT chk_latitude  CHECK (latitude  BETWEEN -90  AND 90),
			CONSTRAINT chk_longitude CHECK (longitude BETWEEN -180 AND 180)
		);
	`, "vehicle_locations table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 — Hypertable (optional)
// ─────────────────────────────────────────────────────────────
func step2_hypertable(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Hypertable ──────────────────────────")

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;"); err != nil {
		fmt.Printf("  - timescaledb unavailable, keeping plain table (%v)\n", err)
		return
	}
	execOrFatal(ctx, conn, `
		SELECT create_hypertable(
			'vehicle_locations',
			'recorded_at',
			if_not_exists => TRUE
		);
	`, "vehicle_locations converted to hypertable")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — Indexes
// ─────────────────────────────────────────────────────────────
func step3_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_locations_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_locations_vehicle_time
				  ON vehicle_locations (vehicle_id, recorded_at DESC);`,
			why: "query: latest position per vehicle for snapshots",
		},
		{
			name: "idx_vehicles_space_active",
			sql: `CREATE INDEX IF NOT EXISTS idx_vehicles_space_active
				  ON vehicles (space_id) WHERE is_active;`,
			why: "query: active vehicles in a space",
		},
		{
			name: "idx_subscribers_route",
			sql: `CREATE INDEX IF NOT EXISTS idx_subscribers_route
				  ON subscribers (route_id);`,
			why: "query: subscribers on a route",
		},
		{
			name: "idx_subscribers_last_notified",
			sql: `CREATE INDEX IF NOT EXISTS idx_subscribers_last_notified
				  ON subscribers (last_notified_vehicle_id)
				  WHERE last_notified_vehicle_id IS NOT NULL;`,
			why: "query: reset dedup flags at end of trip (partial index)",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 4 — Demo fixtures
// ─────────────────────────────────────────────────────────────
func step4_fixtures(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Fixtures ────────────────────────────")

	execOrFatal(ctx, conn, `
		INSERT INTO vehicles (id, label, route_id, space_id)
		VALUES ('bus-1', 'AP-07-1234', 'route-9', 'college-1'),
		       ('bus-2', 'AP-07-5678', NULL,      'college-1')
		ON CONFLICT (id) DO NOTHING;
	`, "vehicles bus-1, bus-2")

	execOrFatal(ctx, conn, `
		INSERT INTO subscribers (id, route_id, stop_id, stop_name, stop_lat, stop_lng, push_token, language)
		VALUES ('stu-1', 'route-9', 'stop-4', 'Main Gate', 16.3067, 80.4365, 'demo-device-token', 'hi')
		ON CONFLICT (id) DO NOTHING;
	`, "subscriber stu-1 on route-9")
}

// ─────────────────────────────────────────────────────────────
// Step 5 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step5_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Verification ────────────────────────")

	tables := []string{"vehicles", "subscribers", "vehicle_locations"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('vehicles', 'subscribers', 'vehicle_locations')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
