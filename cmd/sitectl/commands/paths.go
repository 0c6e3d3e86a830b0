package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openfroyo/sitemodel/pkg/stores"
)

// pathRow is one path mapping with its owner's name.
type pathRow struct {
	Path     string           `json:"path"`
	Wildcard bool             `json:"wildcard"`
	Kind     stores.OwnerKind `json:"owner_kind"`
	Owner    string           `json:"owner"`
}

func newPathsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths <site>",
		Short: "List the paths a site maps",
		Long: `List every path mapping of an applied site with the page or content
element that owns it.`,
		Example: `  # Paths of a site
  sitectl paths corporate

  # As JSON
  sitectl paths corporate --json`,
		Args: cobra.ExactArgs(1),
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

			rows, err := sitePaths(ctx, store, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(out, rows)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.Path, strconv.FormatBool(r.Wildcard), string(r.Kind), r.Owner})
			}
			return printTable(out, []string{"path", "wildcard", "kind", "owner"}, table)
		},
	}

	cmd.Flags().String("db", "", "SQLite database path")

	return cmd
}

func sitePaths(ctx context.Context, store stores.Store, siteName string) ([]pathRow, error) {
	site, err := store.GetSiteByName(ctx, siteName)
	if err != nil {
		return nil, fmt.Errorf("failed to get site %s: %w", siteName, err)
	}

	mappings, err := store.ListMappings(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list path mappings: %w", err)
	}

	names := map[stores.OwnerKind]map[int64]string{
		stores.OwnerPage:    {},
		stores.OwnerContent: {},
	}
	pages, err := store.ListPages(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	for _, p := range pages {
		names[stores.OwnerPage][p.ID] = p.Name
	}
	content, err := store.ListContent(ctx, site.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	for _, c := range content {
		names[stores.OwnerContent][c.ID] = c.Name
	}

	rows := make([]pathRow, 0, len(mappings))
	for _, m := range mappings {
		owner, ok := names[m.OwnerKind][m.OwnerID]
		if !ok {
			owner = "#" + strconv.FormatInt(m.OwnerID, 10)
		}
		rows = append(rows, pathRow{Path: m.Path, Wildcard: m.Wildcard, Kind: m.OwnerKind, Owner: owner})
	}
	return rows, nil
}
