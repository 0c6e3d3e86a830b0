package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitectl",
		Short: "Declarative site model reconciler",
		Long: `sitectl applies declared sites (hostnames, layouts, templates, pages and
content) to a content store, so the store ends up matching the declaration.

Features:
  - Typed site declarations via CUE or YAML
  - Script content evaluated with Starlark
  - Two-pass apply with content revisions and path management
  - Dry-run plans
  - Policy checks via OPA/Rego
  - Watch mode that re-applies on change`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default ./sitectl.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand(version))
	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPathsCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

// addStoreFlags adds the flags shared by commands that open the store.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().String("actor", "", "identity stamped on changes")
	cmd.Flags().String("web-root", "", "directory css/js and libraries resolve against")
}

// addPolicyFlags adds the policy flags shared by apply, plan and watch.
func addPolicyFlags(cmd *cobra.Command) {
	cmd.Flags().String("policy-mode", "", "policy mode: enforce, warn or off")
	cmd.Flags().StringSlice("policy", nil, "additional policy files or directories")
}
