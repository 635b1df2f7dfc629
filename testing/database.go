// Package testing provides test utilities and database setup for integration tests
package testing

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/amirphl/evoteli/migrations"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostGISImage carries the postgis extension the schema depends on
const PostGISImage = "postgis/postgis:16-3.4-alpine"

// TestDB represents a migrated test database
type TestDB struct {
	DB        *gorm.DB
	DSN       string
	container *postgres.PostgresContainer
}

// SetupTestDB connects to TEST_DB_DSN when set and otherwise starts a
// disposable PostGIS container. Migrations are applied either way.
func SetupTestDB(ctx context.Context) (*TestDB, error) {
	tdb := &TestDB{DSN: os.Getenv("TEST_DB_DSN")}

	if tdb.DSN == "" {
		container, err := postgres.Run(ctx,
			PostGISImage,
			postgres.WithDatabase("evoteli_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to start postgres container: %w", err)
		}
		tdb.container = container

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = tdb.TeardownTestDB(ctx)
			return nil, fmt.Errorf("failed to read container dsn: %w", err)
		}
		tdb.DSN = dsn
	}

	db, err := gorm.Open(gormpostgres.Open(tdb.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = tdb.TeardownTestDB(ctx)
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	tdb.DB = db

	sqlDB, err := db.DB()
	if err != nil {
		_ = tdb.TeardownTestDB(ctx)
		return nil, err
	}
	if err := migrations.Up(ctx, sqlDB); err != nil {
		_ = tdb.TeardownTestDB(ctx)
		return nil, err
	}

	return tdb, nil
}

// TeardownTestDB closes connections and terminates the container, if any
func (tdb *TestDB) TeardownTestDB(ctx context.Context) error {
	if tdb.DB != nil {
		if sqlDB, err := tdb.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if tdb.container != nil {
		return tdb.container.Terminate(ctx)
	}
	return nil
}

// ClearAllTables removes all data from tables while preserving structure
func (tdb *TestDB) ClearAllTables() error {
	// Order matters due to foreign key constraints
	tables := []string{
		"audience_sync_history",
		"customer_match_audiences",
		"google_ads_accounts",
		"search_alerts",
		"saved_searches",
		"property_contacts",
		"permitscope_analyses",
		"drivewaypro_analyses",
		"solarfit_analyses",
		"roofiq_analyses",
		"properties",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// TestWithDB sets up a test database, runs the test function, and cleans up
func TestWithDB(testFunc func(*TestDB) error) error {
	ctx := context.Background()
	testDB, err := SetupTestDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup test database: %w", err)
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(ctx); cleanupErr != nil {
			log.Printf("Warning: failed to cleanup test database: %v", cleanupErr)
		}
	}()

	return testFunc(testDB)
}
