package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/EpiExtract/internal/infrastructure/database/postgres"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

// NewMigrateCmd manages the PostgreSQL schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL result store schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return printStatus(cmd, m)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back all")

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without migrating, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.New(errors.ErrCodeValidation, "version must be an integer").WithDetail(args[0])
			}
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				return printStatus(cmd, m)
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					return printStatus(cmd, m)
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error { return printStatus(cmd, m) })
			},
		},
		force,
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(m *postgres.Migrator) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	m, err := postgres.NewMigrator(cliCtx.Config.Database, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

type migrationStatus struct {
	Version uint `json:"version" yaml:"version"`
	Dirty   bool `json:"dirty" yaml:"dirty"`
}

func printStatus(cmd *cobra.Command, m *postgres.Migrator) error {
	version, dirty, err := m.Status()
	if err != nil {
		return err
	}
	return PrintResult(cmd, migrationStatus{Version: version, Dirty: dirty})
}
