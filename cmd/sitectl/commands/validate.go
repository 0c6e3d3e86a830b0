package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/sitemodel/pkg/config"
	"github.com/openfroyo/sitemodel/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		export     bool
		noPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate site declarations",
		Long: `Validate site declarations without touching the store.

This command checks:
  - CUE and YAML syntax
  - Schema conformance
  - References between sites, pages, templates, layouts and content
  - Policy compliance (OPA/Rego)`,
		Example: `  # Validate the declarations in the current directory
  sitectl validate

  # Validate a directory and print the merged declaration as JSON
  sitectl validate ./sites --export

  # Skip policy checks
  sitectl validate ./sites --no-policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := loadSettings(cmd, configPath)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = s.Model
			}

			log.Info().Strs("paths", paths).Msg("Validating declarations")

			parser := config.NewCUEParser()
			parsed, err := parser.Parse(ctx, paths)
			if err != nil {
				return err
			}
			if parsed.HasErrors() {
				for _, e := range parsed.Errors {
					fmt.Fprintf(out, "%s: %s\n", e.Severity, e.Error())
				}
				return fmt.Errorf("%d validation errors", len(parsed.Errors))
			}

			if export {
				data, err := parser.ExportJSON(parsed)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			}

			blocked := 0
			if !noPolicies && s.Policy.Mode != policyOff {
				pe, err := newPolicyEngine(ctx, s, log.Logger)
				if err != nil {
					return err
				}
				pe.SetContext(policy.PolicyContext{
					User:        s.Actor,
					Environment: s.Policy.Environment,
					Operation:   "validate",
				})
				for _, site := range parsed.Sites {
					result, err := pe.EvaluateSite(ctx, site)
					if err != nil {
						return err
					}
					for _, v := range result.Violations {
						fmt.Fprintf(out, "%s: site %s: [%s] %s\n", v.Severity, site.ID, v.Policy, v.Message)
					}
					for _, w := range result.Warnings {
						fmt.Fprintf(out, "warning: site %s: %s\n", site.ID, w)
					}
					if !result.Allowed {
						blocked++
					}
				}
			}

			if blocked > 0 && s.Policy.Mode == policyEnforce {
				return fmt.Errorf("%d sites violate policies", blocked)
			}

			if !export {
				fmt.Fprintf(out, "%d sites valid (%d source files)\n", len(parsed.Sites), len(parsed.SourceFiles))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "print the merged declaration as JSON")
	cmd.Flags().BoolVar(&noPolicies, "no-policies", false, "skip policy checks")
	addPolicyFlags(cmd)

	return cmd
}
