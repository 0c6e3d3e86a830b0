package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/sitemodel/pkg/engine"
	"github.com/openfroyo/sitemodel/pkg/policy"
)

func newPlanCommand(version string) *cobra.Command {
	var siteIDs []string

	cmd := &cobra.Command{
		Use:   "plan [path...]",
		Short: "Show what apply would change",
		Long: `Run a full apply of the declared sites and roll it back.

The output lists every write apply would make: created and updated entities,
new content revisions, path renames and trashed pages or content. Nothing is
committed to the store.`,
		Example: `  # Plan every declared site
  sitectl plan ./sites

  # Plan one site and print JSON
  sitectl plan ./sites --site corporate --json`,
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

			if ws.policies != nil {
				ws.policies.SetContext(policy.PolicyContext{
					User:        s.Actor,
					Environment: s.Policy.Environment,
					Operation:   "plan",
				})
			}

			sites, err := ws.load(ctx, args)
			if err != nil {
				return err
			}
			sites, err = selectSites(sites, siteIDs)
			if err != nil {
				return err
			}

			log.Info().Int("sites", len(sites)).Msg("Planning sites")

			results := make([]*engine.ApplyResult, 0, len(sites))
			var planErr error
			for _, site := range sites {
				res, err := ws.reconciler.Plan(ctx, site)
				if err != nil {
					planErr = err
					break
				}
				results = append(results, res)
			}

			if err := printResults(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return planErr
		},
	}

	cmd.Flags().StringSliceVarP(&siteIDs, "site", "s", nil, "plan only the named sites")
	addStoreFlags(cmd)
	addPolicyFlags(cmd)

	return cmd
}
