package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiffCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff [ref]",
		Short: "Show a line diff from a version to the working copy",
		Long: `Prints a unified diff from the content of ref (a tag, branch or version
id, default the active head) to the working copy. Values are shown in
plain text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, true)
			if err != nil {
				return err
			}
			defer p.Close()

			var ref string
			if len(args) == 1 {
				ref = args[0]
			}
			text, err := p.syncer.Diff(ctx, p.id(), ref, p.wc, p.relPath(p.wc.Path()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if text == "" {
				fmt.Fprintln(out, "No differences")
				return nil
			}
			fmt.Fprint(out, text)
			return nil
		},
	}
}
