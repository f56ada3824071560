package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/user/tagwatch/internal/coordinator"
)

// RunOptions configures the `tagwatch run` command.
type RunOptions struct {
	ConfigPath string
}

// NewRunCommand creates the `run` subcommand: one Run Coordinator pass over
// the active Property Source.
func NewRunCommand() *cobra.Command {
	o := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one validation pass over the active property source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "config.yaml", "Config file path")

	return cmd
}

func (o *RunOptions) Run(ctx context.Context) error {
	application, err := newApp(ctx, o.ConfigPath)
	if err != nil {
		return err
	}
	defer application.Close()

	c := coordinator.New(application.cfg, application.log, application.store, application.pool, application.newPipeline(), application.objects)
	return c.Run(ctx)
}
