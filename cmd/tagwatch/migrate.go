package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/tagwatch/internal/config"
	"github.com/user/tagwatch/internal/store"
)

// MigrateOptions configures the `tagwatch migrate` command.
type MigrateOptions struct {
	ConfigPath string
}

// NewMigrateCommand creates the `migrate` subcommand: brings the
// configured Postgres database up to the latest embedded schema version.
func NewMigrateCommand() *cobra.Command {
	o := &MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run datastore migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run()
		},
	}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "config.yaml", "Config file path")

	return cmd
}

func (o *MigrateOptions) Run() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("tagwatch: load config: %w", err)
	}

	db, err := store.Connect(cfg.Datastore)
	if err != nil {
		return fmt.Errorf("tagwatch: connect datastore: %w", err)
	}
	defer db.Close()

	return store.Migrate(db.DB, cfg.Datastore.MigrationsTable)
}
