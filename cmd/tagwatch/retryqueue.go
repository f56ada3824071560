package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/tagwatch/internal/retryqueue"
)

// RetryQueueOptions configures the `tagwatch retry-queue` command.
type RetryQueueOptions struct {
	ConfigPath string
}

// NewRetryQueueCommand creates the `retry-queue` subcommand: one Retry
// Queue Processor pass, intended for a separate, more
// frequent cron schedule than `run`.
func NewRetryQueueCommand() *cobra.Command {
	o := &RetryQueueOptions{}

	cmd := &cobra.Command{
		Use:   "retry-queue",
		Short: "Process one batch of due retry-queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&o.ConfigPath, "config", "c", "config.yaml", "Config file path")

	return cmd
}

func (o *RetryQueueOptions) Run(ctx context.Context) error {
	application, err := newApp(ctx, o.ConfigPath)
	if err != nil {
		return err
	}
	defer application.Close()

	deadline := time.Duration(application.cfg.Scheduler.Phase2TimeoutMs) * time.Millisecond
	proc := retryqueue.New(
		application.store.RetryQueue,
		application.store.Properties,
		application.store.Verdicts,
		application.pool,
		application.newPipeline(),
		application.log,
		deadline,
	)
	return proc.RunOnce(ctx)
}
