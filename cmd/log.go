package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/envsync/internal/diff"
	"github.com/illarion/envsync/internal/history"
)

type logEntry struct {
	ID          string       `json:"id"`
	Seq         uint64       `json:"seq"`
	CreatedAt   time.Time    `json:"created_at"`
	AuthorID    string       `json:"author_id"`
	Branch      string       `json:"branch"`
	ParentID    string       `json:"parent_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Changes     diff.Summary `json:"changes"`
}

func newLogCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		author  string
		branch  string
		since   time.Duration
		asJSON  bool
		verbose bool
	)

	c := &cobra.Command{
		Use:   "log",
		Short: "List versions, newest first",
		Long: `Lists the project's versions newest first. Only metadata is shown;
listing does not need the identity secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openProject(ctx, opts, false)
			if err != nil {
				return err
			}
			defer p.Close()

			f := history.Filter{Limit: limit, AuthorID: author, Branch: branch}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			n := 0
			for v, err := range p.syncer.History().Versions(ctx, p.id(), f) {
				if err != nil {
					return err
				}
				n++
				if asJSON {
					if err := enc.Encode(logEntry{
						ID:          v.ID,
						Seq:         v.Seq,
						CreatedAt:   v.CreatedAt,
						AuthorID:    v.AuthorID,
						Branch:      v.Branch,
						ParentID:    v.ParentID,
						Description: v.Description,
						Changes:     v.Changes,
					}); err != nil {
						return err
					}
					continue
				}

				who := shortID(v.AuthorID)
				if v.AuthorID == p.cfg.Author.ID && p.cfg.Author.Name != "" {
					who = p.cfg.Author.Name
				}
				yellow.Fprint(out, shortID(v.ID))
				fmt.Fprintf(out, "  %s  %-12s %-10s %s", v.CreatedAt.Local().Format("2006-01-02 15:04"), who, v.Branch, formatChanges(v.Changes))
				if v.Description != "" {
					fmt.Fprintf(out, "  %s", v.Description)
				}
				fmt.Fprintln(out)
				if verbose {
					printKeys(out, "added", v.Changes.Added)
					printKeys(out, "modified", v.Changes.Modified)
					printKeys(out, "deleted", v.Changes.Deleted)
				}
			}
			if n == 0 && !asJSON {
				fmt.Fprintln(out, "No versions")
			}
			return nil
		},
	}

	c.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of versions, 0 for all")
	c.Flags().StringVar(&author, "author", "", "only versions by this author id")
	c.Flags().StringVar(&branch, "branch", "", "only versions recorded on this branch")
	c.Flags().DurationVar(&since, "since", 0, "only versions newer than this, e.g. 72h")
	c.Flags().BoolVar(&asJSON, "json", false, "output JSON lines")
	c.Flags().BoolVarP(&verbose, "verbose", "v", false, "list changed key names")
	return c
}

func printKeys(w io.Writer, label string, keys []string) {
	for _, k := range keys {
		fmt.Fprintf(w, "    %-8s %s\n", label, k)
	}
}
