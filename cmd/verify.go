package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/history"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var decrypt bool

	c := &cobra.Command{
		Use:   "verify",
		Short: "Check the history for dangling references and tampering",
		Long: `Checks that every branch and tag points at an existing version and that
exactly one branch is active. With --decrypt, every version is also
decrypted to check its integrity, which needs the identity secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, decrypt)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			if err := p.syncer.Refs().Verify(ctx, p.id()); err != nil {
				return err
			}
			success(out, "References ok")

			if !decrypt {
				return nil
			}
			h := p.syncer.History()
			var failed []error
			n := 0
			for v, err := range h.Versions(ctx, p.id(), history.Filter{}) {
				if err != nil {
					return err
				}
				n++
				if _, err := h.Open(ctx, v); err != nil {
					red.Fprintf(out, "  %s: %s\n", shortID(v.ID), err)
					failed = append(failed, err)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d versions failed: %w", len(failed), n, errors.Join(failed...))
			}
			success(out, "%d versions decrypted", n)
			return nil
		},
	}

	c.Flags().BoolVar(&decrypt, "decrypt", false, "decrypt every version")
	return c
}
