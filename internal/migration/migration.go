// Package migration creates the credit ledger schema on startup so local and
// self-hosted deployments work out of the box.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	costdomain "github.com/smallbiznis/creditflow/internal/cost/domain"
	eventsdomain "github.com/smallbiznis/creditflow/internal/events/domain"
	limitdomain "github.com/smallbiznis/creditflow/internal/limit/domain"
	ownershipdomain "github.com/smallbiznis/creditflow/internal/ownership/domain"
	subscriptiondomain "github.com/smallbiznis/creditflow/internal/subscription/domain"
	trackingdomain "github.com/smallbiznis/creditflow/internal/tracking/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema through gorm for the non-postgres dialects
// used in development and tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&costdomain.ActionCost{},
		&limitdomain.LimitWindow{},
		&trackingdomain.ConsumptionRecord{},
		&ownershipdomain.Ownership{},
		&eventsdomain.OutboxEvent{},
	)
}
