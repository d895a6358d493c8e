package cmd

import (
	"github.com/spf13/cobra"
)

func newRollbackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <ref>",
		Short: "Overwrite the working copy with a past version",
		Long: `Overwrites the working copy with the content of ref, which may be a
tag, a branch or a version id. History is not changed; push afterwards to
record the restored content as a new version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, true)
			if err != nil {
				return err
			}
			defer p.Close()

			v, err := p.syncer.Rollback(ctx, p.id(), args[0], p.wc)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Restored %s to %s (%s)", p.relPath(p.wc.Path()), shortID(v.ID), v.CreatedAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}
