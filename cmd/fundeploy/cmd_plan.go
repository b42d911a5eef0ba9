package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/template"
)

func newPlanCommand(a *app) *cobra.Command {
	var asJSON bool
	var sel selection
	cmd := &cobra.Command{
		Use:   "plan <template> [resource...]",
		Short: "Show the order resources would be deployed in",
		Example: `  fundeploy plan template.yml
  fundeploy plan template.yml --json
  fundeploy plan template.yml MyService --exclude-kind Trigger`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := template.Load(args[0])
			if err != nil {
				return err
			}
			opt, err := sel.option(args[1:])
			if err != nil {
				return err
			}
			planner, err := a.planner(cmd.Context(), optionList(opt)...)
			if err != nil {
				return err
			}
			plan, err := planner.Plan(cmd.Context(), doc)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			return renderPlan(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	sel.addFlags(cmd)
	return cmd
}

func renderPlan(w io.Writer, plan *resolver.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tRESOURCE\tKIND\tUNIT\tDEPENDS ON")
	for _, s := range plan.Steps {
		deps := "-"
		if len(s.DependsOn) > 0 {
			deps = strings.Join(s.DependsOn, ", ")
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index+1, s.ID(), s.Resource.Kind, s.Unit, deps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d resources\n", plan.Len())
	return err
}
