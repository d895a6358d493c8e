package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/conflict"
)

type resolveFlags struct {
	forceRemote bool
	forceLocal  bool
	reveal      bool
}

func (f *resolveFlags) register(c *cobra.Command, remote, local string) {
	c.Flags().BoolVar(&f.forceRemote, "force-remote", false, "settle every conflict with the "+remote+" value")
	c.Flags().BoolVar(&f.forceLocal, "force-local", false, "settle every conflict with the "+local+" value")
	c.Flags().BoolVar(&f.reveal, "reveal", false, "show conflicting values instead of their lengths")
	c.MarkFlagsMutuallyExclusive("force-remote", "force-local")
}

func (f *resolveFlags) policy(cmd *cobra.Command) conflict.Policy {
	switch {
	case f.forceRemote:
		return conflict.ForceRemote
	case f.forceLocal:
		return conflict.ForceLocal
	}
	prompter := conflict.NewTerminalPrompter(f.reveal)
	prompter.In = cmd.InOrStdin()
	prompter.Out = cmd.OutOrStdout()
	return prompter.Policy()
}

func printOutcome(w io.Writer, out *conflict.Outcome) {
	if len(out.Conflicts) == 0 {
		return
	}
	fmt.Fprintf(w, "conflicts: %d resolved\n", len(out.Conflicts))
	for _, key := range out.Conflicts {
		side := "local"
		if out.Decisions[key] == conflict.TakeRemote {
			side = "remote"
		}
		fmt.Fprintf(w, "  %s: kept %s\n", key, side)
	}
}

func newPullCmd(opts *rootOptions) *cobra.Command {
	var flags resolveFlags

	c := &cobra.Command{
		Use:   "pull",
		Short: "Merge the head of the active branch into the working copy",
		Long: `Decrypts the head of the active branch and merges it into the working
copy. Keys that differ on both sides are settled interactively unless
--force-remote or --force-local is given. Discarded values are kept in the
working copy as comments. Pull never records a version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, true)
			if err != nil {
				return err
			}
			defer p.Close()

			t, err := p.target(ctx)
			if err != nil {
				return err
			}
			res, err := p.syncer.Pull(ctx, t, p.wc, flags.policy(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Head == nil {
				fmt.Fprintf(out, "Branch %s has no versions yet\n", t.Branch)
				return nil
			}
			printOutcome(out, res.Outcome)
			if !res.Written && len(res.Outcome.Conflicts) == 0 {
				success(out, "%s is up to date with %s (%s)", p.relPath(p.wc.Path()), t.Branch, shortID(res.Head.ID))
				return nil
			}
			success(out, "Pulled %s from %s into %s", shortID(res.Head.ID), t.Branch, p.relPath(p.wc.Path()))
			if n := len(res.Outcome.Discarded); n > 0 {
				fmt.Fprintf(out, "preserved: %d discarded values as comments\n", n)
			}
			return nil
		},
	}

	flags.register(c, "remote", "local")
	return c
}
