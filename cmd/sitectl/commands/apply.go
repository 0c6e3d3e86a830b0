package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/sitemodel/pkg/model"
)

func newApplyCommand(version string) *cobra.Command {
	var siteIDs []string

	cmd := &cobra.Command{
		Use:   "apply [path...]",
		Short: "Apply declared sites to the store",
		Long: `Apply declared sites to the store.

For each site this command:
  - Checks the declaration against the loaded policies
  - Resolves hostnames, layouts, templates and pages (pass 1)
  - Populates slots, delegates and access control (pass 2)
  - Creates content revisions where declared content changed
  - Writes an audit entry

Each site is applied in its own transaction. Sites are applied in declaration
order and the command stops at the first failure.`,
		Example: `  # Apply the model configured in sitectl.yaml
  sitectl apply

  # Apply one site from a directory of declarations
  sitectl apply ./sites --site corporate

  # Apply without policy enforcement
  sitectl apply ./sites --policy-mode warn`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := loadSettings(cmd, configPath)
			if err != nil {
				return err
			}

			ws, err := openWorkspace(ctx, s, version)
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			sites, err := ws.load(ctx, args)
			if err != nil {
				return err
			}
			sites, err = selectSites(sites, siteIDs)
			if err != nil {
				return err
			}

			log.Info().
				Int("sites", len(sites)).
				Str("db", s.Database.Path).
				Str("policy_mode", s.Policy.Mode).
				Msg("Applying sites")

			results, err := ws.reconciler.ApplyAll(ctx, sites)
			if perr := printResults(cmd.OutOrStdout(), results); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&siteIDs, "site", "s", nil, "apply only the named sites")
	addStoreFlags(cmd)
	addPolicyFlags(cmd)

	return cmd
}

// selectSites keeps the sites named in ids, in declaration order. Every
// named site must be declared.
func selectSites(sites []*model.Site, ids []string) ([]*model.Site, error) {
	if len(ids) == 0 {
		return sites, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var selected []*model.Site
	for _, site := range sites {
		if want[site.ID] {
			selected = append(selected, site)
			delete(want, site.ID)
		}
	}
	for _, id := range ids {
		if want[id] {
			return nil, fmt.Errorf("site %s is not declared", id)
		}
	}
	return selected, nil
}
