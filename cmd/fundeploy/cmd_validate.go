package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/template"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <template>",
		Short: "Check a template without touching any backend",
		Long: `Validate checks the template against the resource schemas, normalizes it,
evaluates the configured policies and resolves every reference between
resources. Nothing is deployed.`,
		Example: `  fundeploy validate template.yml
  fundeploy validate template.jsonc --policy-dir policies/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := template.Load(args[0])
			if err != nil {
				return err
			}
			planner, err := a.planner(cmd.Context())
			if err != nil {
				return err
			}
			plan, err := planner.Plan(cmd.Context(), doc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%d resources)\n", args[0], plan.Len())
			return err
		},
	}
}
