// Package main implements the tagwatch CLI (SPEC_FULL.md §4.13), grounded
// on tomasbasham-har-capture/internal/cmd's Options/Complete/Validate/Run
// subcommand structure (without that repo's cli-runtime dependency: this
// CLI has no templated help text or colorized-warning flag normalization
// to justify pulling it in).
package main

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the "tagwatch" command and its subcommands.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "tagwatch [command]",
		Short:                 "Run validation passes over the analytics tag property source",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewRetryQueueCommand())
	cmd.AddCommand(NewMigrateCommand())

	return cmd
}
