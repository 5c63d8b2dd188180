package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"fleet-monitor/realtime/internal/config"
	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}
	cfg := config.Load()
	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rdb.Close()
	fmt.Println("✓ Connected")

	step1_sessions(ctx, rdb)
	step2_verify(ctx, rdb)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Connect with: ws://localhost:" + cfg.HTTPPort + "/ws?token=demo-driver-token")
}

// Key pattern: session:{token} → identity JSON, as written by the primary API.
// TTL = 0 means permanent.
var sessions = map[string]domain.Identity{
	"demo-driver-token":  {SubjectID: "drv-1", Name: "Ravi", Role: domain.RoleDriver, SpaceID: "college-1"},
	"demo-student-token": {SubjectID: "stu-1", Name: "Anjali", Role: domain.RoleStudent, SpaceID: "college-1"},
	"demo-coord-token":   {SubjectID: "crd-1", Name: "Coordinator", Role: domain.RoleCoordinator, SpaceID: "college-1"},
}

func step1_sessions(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding sessions ────────────────────")

	for token, id := range sessions {
		if err := rdb.PutSession(ctx, token, id, 0); err != nil {
			log.Fatalf("Failed to set session %s: %v", token, err)
		}
		fmt.Printf("  ✓ session:%-30s → %s (%s)\n", token, id.SubjectID, id.Role)
	}
}

func step2_verify(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := rdb.Client().Keys(ctx, "session:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d sessions found in Redis\n", len(keys))

	id, err := rdb.GetSession(ctx, "demo-driver-token")
	if err != nil || id == nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: session:demo-driver-token → %s\n", id.SubjectID)
}
