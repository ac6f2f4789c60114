package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pms/internal/db"
)

// newMigrateCmd manages the schema of the observation database. The database
// is opened without running migrations so the schema is left as found.
func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite database schema",
	}

	action := func(use, short string, fn func(*db.DB) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [DB]",
			Short: short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				path := a.cfg.GetDBPath()
				if len(args) == 1 {
					path = args[0]
				}
				database, err := db.OpenDB(path)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer database.Close()

				if err := fn(database); err != nil {
					return err
				}
				version, dirty, err := database.MigrateVersion()
				if err != nil {
					return fmt.Errorf("failed to get migration version: %w", err)
				}
				a.printf("Current version: %d (dirty: %v)\n", version, dirty)
				return nil
			},
		}
	}

	cmd.AddCommand(
		action("up", "Apply all pending migrations", (*db.DB).MigrateUp),
		action("down", "Roll back the most recent migration", (*db.DB).MigrateDown),
		action("version", "Show the current migration version", func(*db.DB) error { return nil }),
	)
	return cmd
}
