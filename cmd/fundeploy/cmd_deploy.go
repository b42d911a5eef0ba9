package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/report"
	"github.com/yairfalse/fundeploy/template"
)

func newDeployCommand(a *app) *cobra.Command {
	var asJSON bool
	var sel selection
	cmd := &cobra.Command{
		Use:   "deploy <template> [resource...]",
		Short: "Create or update every resource of a template",
		Long: `Deploy validates the template, then creates or updates its resources in
dependency order. Transient backend errors are retried. A resource that fails
skips the resources depending on it while unrelated resources continue.

Naming resources deploys only those top-level resources and what they depend
on. A service brings its functions and triggers along, and a route brings the
function it invokes.

Interrupting a deployment lets calls already in flight finish and reports
everything not yet started as cancelled.`,
		Example: `  fundeploy deploy template.yml                       # local backend in .fundeploy/
  fundeploy deploy template.yml --backend aws --region eu-west-1
  fundeploy deploy template.yml --parallelism 1 --json
  fundeploy deploy template.yml MyService --exclude-kind Trigger`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := template.Load(args[0])
			if err != nil {
				return err
			}

			opt, err := sel.option(args[1:])
			if err != nil {
				return err
			}

			s, err := a.openSession(ctx, false, optionList(opt)...)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

			rep, err := s.deployer.Deploy(ctx, doc)
			if rep != nil {
				if werr := writeReport(cmd.OutOrStdout(), rep, asJSON); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if !rep.Succeeded() {
				if ferr := rep.Err(); ferr != nil {
					return fmt.Errorf("deployment incomplete: %w", ferr)
				}
				return fmt.Errorf("deployment incomplete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	sel.addFlags(cmd)
	return cmd
}

func writeReport(w io.Writer, rep *report.Report, asJSON bool) error {
	if !asJSON {
		return rep.Render(w)
	}
	data, err := rep.JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
