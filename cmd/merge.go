package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/core"
)

func newMergeCmd(opts *rootOptions) *cobra.Command {
	var (
		flags resolveFlags
		into  string
	)

	c := &cobra.Command{
		Use:   "merge <source>",
		Short: "Merge the head of a branch into the active branch",
		Long: `Merges the head of source into the active branch (or --into) and
records the result as a new version there. Conflicting keys are settled
interactively unless --force-remote (take source) or --force-local (keep
target) is given. The working copy is not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, true)
			if err != nil {
				return err
			}
			defer p.Close()

			target := into
			if target == "" {
				t, err := p.target(ctx)
				if err != nil {
					return err
				}
				target = t.Branch
			}

			res, err := p.syncer.Merge(ctx, p.id(), core.MergeRequest{
				Source:   args[0],
				Target:   target,
				AuthorID: p.cfg.Author.ID,
				Policy:   flags.policy(cmd),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printOutcome(out, res.Outcome)
			success(out, "Merged %s into %s as %s (%s)", args[0], target, shortID(res.Version.ID), formatChanges(res.Version.Changes))
			return nil
		},
	}

	flags.register(c, "source", "target")
	c.Flags().StringVar(&into, "into", "", "target branch (default the active branch)")
	return c
}
