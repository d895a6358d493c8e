package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag [name [ref]]",
		Short: "List tags, or tag a version",
		Long: `Without arguments, lists tags. With a name, tags ref (a tag, branch or
version id) or the head of the active branch. Tags never move.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				tags, err := p.syncer.Refs().ListTags(ctx, p.id())
				if err != nil {
					return err
				}
				for _, t := range tags {
					fmt.Fprintf(out, "%-20s %s  %s\n", t.Name, shortID(t.VersionID), t.CreatedAt.Local().Format("2006-01-02 15:04"))
				}
				return nil
			}

			var versionID string
			if len(args) == 2 {
				if versionID, err = p.syncer.Refs().Resolve(ctx, p.id(), args[1]); err != nil {
					return err
				}
			}
			t, err := p.syncer.Refs().CreateTag(ctx, p.id(), args[0], versionID)
			if err != nil {
				return err
			}
			success(out, "Tagged %s as %s", shortID(t.VersionID), t.Name)
			return nil
		},
	}
}
