package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/core"
	"github.com/illarion/envsync/internal/crypto"
	errs "github.com/illarion/envsync/internal/errors"
	"github.com/illarion/envsync/internal/history"
	"github.com/illarion/envsync/internal/keyring"
)

func newIdentityCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "identity",
		Short: "Manage the identity secret in the OS keyring",
	}

	var fromEnv bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Save the identity secret to the OS keyring",
		Long: `Prompts for the identity secret and saves it to the OS keyring. If the
project already has history, the secret must decrypt the active head.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				secret []byte
				err    error
			)
			if fromEnv {
				if secret = core.SecretFromEnv(); secret == nil {
					return core.ErrNoIdentity
				}
			} else if secret, err = core.ReadSecretConfirm(); err != nil {
				return err
			}
			defer crypto.ClearBytes(secret)

			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			keys, err := crypto.NewKeyChain(secret, p.cfg.KeyMode())
			if err != nil {
				return err
			}
			defer keys.Destroy()

			t, err := p.target(ctx)
			if err != nil {
				return err
			}
			// A secret that cannot open the head would lock the user out
			if _, err := history.New(p.db, keys).Head(ctx, t.ProjectID, t.Branch); err != nil {
				if errs.Is(err, errs.ErrIntegrity) {
					return fmt.Errorf("secret does not match the existing history: %w", err)
				}
				return err
			}

			if err := keyring.SaveIdentity(p.cfg.Author.ID, string(secret)); err != nil {
				return fmt.Errorf("failed to save to keyring: %w", err)
			}
			success(cmd.OutOrStdout(), "Identity secret saved to keyring")
			return nil
		},
	}
	set.Flags().BoolVar(&fromEnv, "from-env", false, "read the secret from "+core.IdentityEnv)

	show := &cobra.Command{
		Use:   "show",
		Short: "Show where the identity secret comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Author: %s (%s)\n", cfg.Author.Name, cfg.Author.ID)
			switch secret := core.SecretFromEnv(); {
			case secret != nil:
				crypto.ClearBytes(secret)
				fmt.Fprintf(out, "Identity: from %s\n", core.IdentityEnv)
			case keyring.HasIdentity(cfg.Author.ID):
				fmt.Fprintln(out, "Identity: stored in keyring")
			default:
				fmt.Fprintln(out, "Identity: not set")
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the identity secret from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := keyring.DeleteIdentity(cfg.Author.ID); err != nil {
				fmt.Fprintln(out, "No identity secret stored in keyring")
				return nil
			}
			success(out, "Identity secret removed from keyring")
			return nil
		},
	}

	c.AddCommand(set, show, del)
	return c
}
