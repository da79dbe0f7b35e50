package postgres

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m      *migrate.Migrate
	logger logging.Logger
}

// migrationURL renders cfg for the golang-migrate pgx/v5 driver.
func migrationURL(cfg config.DatabaseConfig) string {
	return connURL("pgx5", cfg)
}

// NewMigrator opens a migration session against the database of cfg.
func NewMigrator(cfg config.DatabaseConfig, log logging.Logger) (*Migrator, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigrationFailed, "load embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to create migrate instance")
	}
	return &Migrator{m: m, logger: log}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeMigrationFailed, "failed to apply migrations")
	}
	mg.logVersion("migrations applied")
	return nil
}

// Down rolls back steps migrations, or all of them when steps <= 0.
func (mg *Migrator) Down(steps int) error {
	var err error
	if steps <= 0 {
		err = mg.m.Down()
	} else {
		err = mg.m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrapf(err, errors.ErrCodeMigrationFailed, "failed to roll back %d migration(s)", steps)
	}
	mg.logVersion("migrations rolled back")
	return nil
}

// Status reports the current schema version. A database without any
// applied migration is at version 0.
func (mg *Migrator) Status() (version uint, dirty bool, err error) {
	version, dirty, err = mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to read migration version")
	}
	return version, dirty, nil
}

// Force marks the schema as being at version without running migrations.
// It clears the dirty flag left by a failed migration.
func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return errors.Wrapf(err, errors.ErrCodeMigrationFailed, "failed to force version %d", version)
	}
	return nil
}

// Close releases the source and database handles.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

func (mg *Migrator) logVersion(msg string) {
	version, dirty, err := mg.Status()
	if err != nil {
		return
	}
	mg.logger.Info(msg, logging.Int("version", int(version)), logging.Bool("dirty", dirty))
}
