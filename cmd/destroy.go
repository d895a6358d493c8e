package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/config"
)

func newDestroyCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	c := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the project and its entire history",
		Long: `Deletes every version, branch and tag of the project and removes its
config. The working copy is left in place. This cannot be undone; export a
bundle first if the history may be needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to destroy history without --yes")
			}
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.syncer.DeleteProject(ctx, p.id()); err != nil {
				return err
			}
			if err := os.Remove(config.Path(p.root)); err != nil {
				return fmt.Errorf("failed to remove config: %w", err)
			}
			success(cmd.OutOrStdout(), "Destroyed project %s", p.cfg.Project.Name)
			return nil
		},
	}

	c.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return c
}
