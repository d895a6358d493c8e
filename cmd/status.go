package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/diff"
	"github.com/illarion/envsync/internal/git"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the working copy with the active head",
		Args:  cobra.NoArgs,
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
			st, err := p.syncer.Status(ctx, t, p.wc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project: %s (%s)\n", p.cfg.Project.Name, p.id())
			fmt.Fprintf(out, "Branch:  %s\n", t.Branch)
			if st.Head == nil {
				fmt.Fprintln(out, "Head:    (no versions)")
			} else {
				fmt.Fprintf(out, "Head:    %s (%s)\n", shortID(st.Head.ID), st.Head.CreatedAt.Local().Format("2006-01-02 15:04"))
			}

			wcPath := p.relPath(p.wc.Path())
			if st.Clean {
				success(out, "%s matches the head", wcPath)
			} else {
				fmt.Fprintf(out, "\n%s differs from the head (%s):\n", wcPath, formatChanges(st.Changes))
				printSummary(out, st.Changes)
				if formatOnly := formattingOnly(st.Changes, st.Normalized); len(formatOnly) > 0 {
					fmt.Fprintf(out, "  formatting only: %d keys differ only in quotes or whitespace\n", len(formatOnly))
				}
			}

			fmt.Fprint(out, git.Check(p.root, wcPath, p.relPath(p.cfg.StoreOptions(p.root).Path)).Format())
			return nil
		},
	}
}

func printSummary(w io.Writer, s diff.Summary) {
	for _, k := range s.Added {
		green.Fprintf(w, "  + %s\n", k)
	}
	for _, k := range s.Modified {
		yellow.Fprintf(w, "  ~ %s\n", k)
	}
	for _, k := range s.Deleted {
		red.Fprintf(w, "  - %s\n", k)
	}
}

// formattingOnly returns keys modified in raw but not normalized form.
func formattingOnly(raw, normalized diff.Summary) []string {
	changed := make(map[string]bool, len(normalized.Modified))
	for _, k := range normalized.Modified {
		changed[k] = true
	}
	var keys []string
	for _, k := range raw.Modified {
		if !changed[k] {
			keys = append(keys, k)
		}
	}
	return keys
}
