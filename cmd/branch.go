package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBranchCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "branch",
		Short: "List or create branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBranches(cmd, opts)
		},
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List branches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listBranches(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "create <name> [ref]",
			Short: "Create a branch at ref, or at the active head",
			Long: `Creates an inactive branch pointing at ref (a tag, branch or version
id), or at the head of the active branch if ref is omitted.`,
			Args: cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				p, err := openProject(ctx, opts, false)
				if err != nil {
					return err
				}
				defer p.Close()

				var base string
				if len(args) == 2 {
					if base, err = p.syncer.Refs().Resolve(ctx, p.id(), args[1]); err != nil {
						return err
					}
				}
				b, err := p.syncer.Refs().CreateBranch(ctx, p.id(), args[0], base)
				if err != nil {
					return err
				}
				at := "no versions"
				if !b.Unborn() {
					at = shortID(b.BaseVersionID)
				}
				success(cmd.OutOrStdout(), "Created branch %s at %s", b.Name, at)
				return nil
			},
		},
	)
	return c
}

func listBranches(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	p, err := openProject(ctx, opts, false)
	if err != nil {
		return err
	}
	defer p.Close()

	branches, err := p.syncer.Refs().ListBranches(ctx, p.id())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, b := range branches {
		head := "(no versions)"
		if !b.Unborn() {
			head = shortID(b.BaseVersionID)
		}
		if b.IsActive {
			green.Fprintf(out, "* %-20s %s\n", b.Name, head)
		} else {
			fmt.Fprintf(out, "  %-20s %s\n", b.Name, head)
		}
	}
	return nil
}

func newSwitchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <branch>",
		Short: "Make a branch the active branch",
		Long: `Makes branch the active branch. The working copy is not touched; run
'envsync pull' or 'envsync rollback <branch>' to update it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			b, err := p.syncer.Refs().SwitchBranch(ctx, p.id(), args[0])
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Switched to branch %s", b.Name)
			return nil
		},
	}
}
