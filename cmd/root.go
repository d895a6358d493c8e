// Package cmd implements the envsync command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	dir      string
	logLevel string
}

// NewRootCmd builds the envsync command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "envsync",
		Short: "Encrypted, versioned history for .env files",
		Long: `envsync keeps encrypted snapshots of a project's .env file in a local
history database, with branches, tags, conflict-aware pull and push,
rollback and branch merge.

The identity secret comes from ENVSYNC_IDENTITY or the OS keyring
(see 'envsync identity set'). It is never written to disk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, none), overrides the config")

	root.AddCommand(
		newInitCmd(opts),
		newPushCmd(opts),
		newPullCmd(opts),
		newRollbackCmd(opts),
		newLogCmd(opts),
		newBranchCmd(opts),
		newSwitchCmd(opts),
		newTagCmd(opts),
		newMergeCmd(opts),
		newDiffCmd(opts),
		newStatusCmd(opts),
		newVerifyCmd(opts),
		newWatchCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newIdentityCmd(opts),
		newCompactCmd(opts),
		newDestroyCmd(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		return HandleError(root.ErrOrStderr(), err)
	}
	return 0
}
