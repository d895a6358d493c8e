package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/config"
	"github.com/illarion/envsync/internal/core"
	"github.com/illarion/envsync/internal/git"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		author        string
		backend       string
		keyDerivation string
		workingCopy   string
	)

	c := &cobra.Command{
		Use:   "init [name]",
		Short: "Create an envsync project in the current directory",
		Long: `Creates .envsync/config.toml and an empty history with an active
'main' branch. The project name defaults to the directory name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(opts)
			if err != nil {
				return err
			}
			if config.Exists(root) {
				return errAlreadyInitialized
			}

			name := filepath.Base(root)
			if len(args) == 1 {
				name = args[0]
			}
			if author == "" {
				author = os.Getenv("USER")
			}

			cfg := config.Default(name, author)
			if backend != "" {
				cfg.Store.Backend = backend
			}
			if keyDerivation != "" {
				cfg.Crypto.KeyDerivation = keyDerivation
			}
			if workingCopy != "" {
				cfg.Project.WorkingCopy = workingCopy
			}
			if err := cfg.Save(root); err != nil {
				return err
			}

			p, err := openProject(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			if _, err := p.syncer.Refs().InitProject(cmd.Context(), p.id()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			success(out, "Initialized envsync project %s", name)
			bold.Fprintln(out, "  project: "+cfg.Project.ID)
			bold.Fprintln(out, "  working copy: "+cfg.Project.WorkingCopy)

			if _, err := core.LoadIdentity(cfg.Author.ID); err != nil {
				warn(out, "no identity secret yet, set %s or run 'envsync identity set'", core.IdentityEnv)
			}
			if st := git.Check(root, cfg.Project.WorkingCopy, ""); !st.Healthy() {
				warn(out, "%s is not in .gitignore", cfg.Project.WorkingCopy)
			}
			return nil
		},
	}

	c.Flags().StringVar(&author, "author", "", "author name (default $USER)")
	c.Flags().StringVar(&backend, "backend", "", "history backend: bolt or badger")
	c.Flags().StringVar(&keyDerivation, "key-derivation", "", "key derivation: project or shared")
	c.Flags().StringVar(&workingCopy, "working-copy", "", "working copy path (default .env)")
	return c
}
