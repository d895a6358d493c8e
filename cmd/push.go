package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/core"
)

func newPushCmd(opts *rootOptions) *cobra.Command {
	var message string

	c := &cobra.Command{
		Use:   "push",
		Short: "Record the working copy as a new version",
		Long: `Encrypts the working copy and records it as the new head of the active
branch. Nothing is recorded if it equals the current head.`,
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
			v, err := p.syncer.Push(ctx, t, p.wc, core.PushRequest{
				AuthorID:    p.cfg.Author.ID,
				Description: message,
			})
			if err != nil {
				return err
			}

			success(cmd.OutOrStdout(), "Pushed %s to %s (%s)", shortID(v.ID), t.Branch, formatChanges(v.Changes))
			return nil
		},
	}

	c.Flags().StringVarP(&message, "message", "m", "", "version description")
	return c
}
