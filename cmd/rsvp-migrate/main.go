package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-rsvp/internal/config"
	"ms-rsvp/internal/models"
)

// Development schema tool: drops, recreates and seeds the RSVP tables
// from the bun models. Production schemas are managed by the SQL
// migrations in ./migrations instead.
func main() {
	ctx := context.Background()

	_ = godotenv.Load()
	cfg := config.Load()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	// Drop tables in reverse dependency order
	log.Println("Dropping tables...")
	dropTables(ctx, db)

	// Create tables
	log.Println("Creating tables...")
	createTables(ctx, db)

	// Seed sample data
	log.Println("Seeding sample data...")
	seedData(ctx, db)

	log.Println("✅ Done.")
}

func dropTables(ctx context.Context, db *bun.DB) {
	tables := []interface{}{(*models.Reservation)(nil), (*models.Event)(nil), (*models.User)(nil)}
	for _, m := range tables {
		_, _ = db.NewDropTable().Model(m).IfExists().Cascade().Exec(ctx)
	}
}

func createTables(ctx context.Context, db *bun.DB) {
	tables := []interface{}{(*models.User)(nil), (*models.Event)(nil), (*models.Reservation)(nil)}
	for _, m := range tables {
		_, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to create table for %T: %v", m, err)
		}
	}
}

func seedData(ctx context.Context, db *bun.DB) {
	users := []models.User{
		{ID: "user001", Email: "alice@example.com", FullName: "Alice Wonderland", CreatedAt: time.Now()},
		{ID: "user002", Email: "bob@example.com", FullName: "Bob Builder", CreatedAt: time.Now()},
	}
	_, _ = db.NewInsert().Model(&users).Exec(ctx)

	capacity := 2
	eventList := []models.Event{
		{
			ID:          "event001",
			Title:       "Summer Fest 2026",
			Description: "Annual summer music festival.",
			StartDate:   time.Now().AddDate(0, 1, 0),
			EndDate:     time.Now().AddDate(0, 1, 3),
			Capacity:    &capacity,
			CreatedAt:   time.Now(),
		},
		{
			ID:          "event002",
			Title:       "Open Air Cinema Night",
			Description: "Free-for-all outdoor screening; no attendance cap.",
			StartDate:   time.Now().AddDate(0, 2, 0),
			EndDate:     time.Now().AddDate(0, 2, 0),
			CreatedAt:   time.Now(),
		},
	}
	_, _ = db.NewInsert().Model(&eventList).Exec(ctx)
}
