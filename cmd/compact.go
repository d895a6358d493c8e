package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/storage"
)

func newCompactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the history database to reclaim disk space",
		Long:  `Rewrites the bolt history database without free pages. Does not need the identity secret.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			s := p.db
			if c, ok := s.(*storage.Cached); ok {
				s = c.Unwrap()
			}
			b, ok := s.(*storage.Bolt)
			if !ok {
				return fmt.Errorf("compact is only supported by the %s backend", storage.BackendBolt)
			}

			// Get file size before
			info, err := os.Stat(b.Path())
			if err != nil {
				return err
			}
			sizeBefore := info.Size()

			if err := b.Compact(); err != nil {
				return err
			}

			// Get file size after
			info, err = os.Stat(b.Path())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(info.Size()))
			return nil
		},
	}
}
