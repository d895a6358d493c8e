package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/bundle"
	"github.com/illarion/envsync/internal/config"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string

	c := &cobra.Command{
		Use:   "export",
		Short: "Write the project's encrypted history to a bundle file",
		Long: `Writes every version, branch and tag of the project to a compressed
bundle. Version content stays encrypted; the bundle is only readable with
the identity secret it was recorded under.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			if output == "" {
				output = p.cfg.Project.Name + ".envsync.zst"
			}
			f, err := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("failed to create bundle: %w", err)
			}

			stats, err := bundle.Export(ctx, p.db, p.id(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return err
			}

			success(cmd.OutOrStdout(), "Exported %d versions, %d branches, %d tags to %s",
				stats.Versions, stats.Branches, stats.Tags, output)
			return nil
		},
	}

	c.Flags().StringVarP(&output, "output", "o", "", "bundle path (default <project>.envsync.zst)")
	return c
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle>",
		Short: "Restore a project's history from a bundle file",
		Long: `Restores a bundle written by 'envsync export'. In a directory without an
envsync project, a config for the bundled project is created first. An
existing project must match the bundle and have an empty history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open bundle: %w", err)
			}
			header, _, err := bundle.Inspect(f)
			f.Close()
			if err != nil {
				return err
			}

			root, err := projectRoot(opts)
			if err != nil {
				return err
			}
			if config.Exists(root) {
				cfg, err := config.Load(root)
				if err != nil {
					return err
				}
				if cfg.Project.ID != header.ProjectID {
					return fmt.Errorf("bundle holds project %s, this directory is project %s", header.ProjectID, cfg.Project.ID)
				}
			} else {
				cfg := config.Default(filepath.Base(root), os.Getenv("USER"))
				cfg.Project.ID = header.ProjectID
				if err := cfg.Save(root); err != nil {
					return err
				}
			}

			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			f, err = os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open bundle: %w", err)
			}
			defer f.Close()

			stats, err := bundle.Import(ctx, p.db, f)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Imported %d versions, %d branches, %d tags", stats.Versions, stats.Branches, stats.Tags)
			return nil
		},
	}
}
