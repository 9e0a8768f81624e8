package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	"gorm.io/gorm"
)

const invoiceIndex = "idx_vertex_responses_invoice"

var errNoHandle = errors.New("migration database handle is required")

// Apply brings the vertex_responses schema up to date. Postgres runs the
// versioned SQL files; other dialects are migrated from the gorm model.
func Apply(conn *gorm.DB, dialect string) error {
	if conn == nil {
		return errNoHandle
	}
	if !strings.EqualFold(strings.TrimSpace(dialect), "postgres") {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql handle: %w", err)
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	m, err := newPostgresMigrator(db)
	if err != nil {
		return err
	}
	// m.Close would close the shared pool.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func newPostgresMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errNoHandle
	}
	files, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "vertextax_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// AutoMigrate creates vertex_responses from the model on first start. Later
// starts only restore a missing invoice index: sqlite's column diff cannot
// re-read numeric(15,9) columns and would rebuild the table.
func AutoMigrate(conn *gorm.DB) error {
	migrator := conn.Migrator()
	if !migrator.HasTable(&taxdomain.AuditRecord{}) {
		if err := conn.AutoMigrate(&taxdomain.AuditRecord{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if !migrator.HasIndex(&taxdomain.AuditRecord{}, invoiceIndex) {
		if err := migrator.CreateIndex(&taxdomain.AuditRecord{}, invoiceIndex); err != nil {
			return fmt.Errorf("create %s: %w", invoiceIndex, err)
		}
	}
	return nil
}
