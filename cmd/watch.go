package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/core"
	"github.com/illarion/envsync/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		delay   time.Duration
		message string
	)

	c := &cobra.Command{
		Use:   "watch",
		Short: "Push the working copy whenever it changes",
		Long: `Watches the working copy and pushes it to the active branch once edits
settle. The project stays locked until watch exits (Ctrl-C).`,
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

			out := cmd.OutOrStdout()
			push := func(ctx context.Context) error {
				v, err := p.syncer.Push(ctx, t, p.wc, core.PushRequest{
					AuthorID:    p.cfg.Author.ID,
					Description: message,
				})
				if err != nil {
					return err
				}
				success(out, "Pushed %s to %s (%s)", shortID(v.ID), t.Branch, formatChanges(v.Changes))
				return nil
			}

			fmt.Fprintf(out, "Watching %s on %s, press Ctrl-C to stop\n", p.relPath(p.wc.Path()), t.Branch)
			w := watch.New(p.wc.Path(), push, watch.WithDelay(delay), watch.WithLogger(p.log))
			return w.Run(ctx)
		},
	}

	c.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before pushing")
	c.Flags().StringVarP(&message, "message", "m", "watch", "description of pushed versions")
	return c
}
