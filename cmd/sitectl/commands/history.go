package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		siteName string
		content  string
		actor    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show applies and content revisions",
		Long: `Show the audit trail of applies, or the revisions of one content element.

Without --content, every committed apply is listed newest first. With
--site and --content, the revisions of that content element are listed.`,
		Example: `  # Recent applies
  sitectl history --limit 10

  # Applies made by one actor
  sitectl history --by ci

  # Revisions of a content element
  sitectl history --site corporate --content banner`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := loadSettings(cmd, configPath)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, s)
			if err != nil {
				return err
			}
			defer store.Close()

			if content != "" {
				if siteName == "" {
					return fmt.Errorf("--content requires --site")
				}
				revs, err := contentRevisions(cmd, store, siteName, content)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, revs)
				}
				rows := make([][]string, 0, len(revs))
				for _, r := range revs {
					rows = append(rows, []string{
						strconv.Itoa(r.Number), r.State, r.Locale, r.Author, r.CreatedAt.Format(time.RFC3339),
					})
				}
				return printTable(out, []string{"revision", "state", "locale", "author", "created"}, rows)
			}

			action := engine.AuditActionSiteApplied
			var actorFilter *string
			if actor != "" {
				actorFilter = &actor
			}
			entries, err := store.ListAuditEntries(ctx, &action, actorFilter, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list audit entries: %w", err)
			}
			if siteName != "" {
				filtered := entries[:0]
				for _, e := range entries {
					if e.TargetID != nil && *e.TargetID == siteName {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}

			if jsonOutput {
				return writeJSON(out, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				target, details := "", ""
				if e.TargetID != nil {
					target = *e.TargetID
				}
				if e.Details != nil {
					details = *e.Details
				}
				rows = append(rows, []string{
					e.Timestamp.Format(time.RFC3339), target, e.Actor, details,
				})
			}
			return printTable(out, []string{"time", "site", "actor", "details"}, rows)
		},
	}

	cmd.Flags().StringVar(&siteName, "site", "", "site name")
	cmd.Flags().StringVar(&content, "content", "", "content element name")
	cmd.Flags().StringVar(&actor, "by", "", "only applies made by this actor")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().String("db", "", "SQLite database path")

	return cmd
}

func contentRevisions(cmd *cobra.Command, store stores.Store, siteName, name string) ([]*stores.Revision, error) {
	ctx := cmd.Context()

	site, err := store.GetSiteByName(ctx, siteName)
	if err != nil {
		return nil, fmt.Errorf("failed to get site %s: %w", siteName, err)
	}
	elem, err := store.GetContent(ctx, site.ID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get content %s: %w", name, err)
	}
	revs, err := store.ListRevisions(ctx, elem.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}
