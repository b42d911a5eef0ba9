package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/fundeploy/wal"
)

func newJournalCommand(a *app) *cobra.Command {
	var (
		since   time.Duration
		stats   bool
		cleanup bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show what past deployments did",
		Long: `Journal prints the deployment journal: every backend call issued, retried,
realized or failed, in the order it happened.`,
		Example: `  fundeploy journal --journal-dir .fundeploy/journal
  fundeploy journal --since 1h
  fundeploy journal --stats
  fundeploy journal --cleanup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := a.cfg.Journal.Dir
			if dir == "" {
				return fmt.Errorf("no journal directory configured (set --journal-dir or [journal] dir)")
			}
			walCfg := wal.DefaultConfig()
			walCfg.RetentionDays = a.cfg.Journal.RetentionDays
			out := cmd.OutOrStdout()

			switch {
			case cleanup:
				res, err := wal.Prune(dir, walCfg)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "removed %d journal file(s), %d bytes\n", res.FilesRemoved, res.BytesFreed)
				return err
			case stats:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(wal.GetStatsFromDir(dir, walCfg))
			}

			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}
			return printJournal(out, dir, cutoff, asJSON)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only show entries newer than this")
	cmd.Flags().BoolVar(&stats, "stats", false, "Summarize the journal instead of listing it")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Remove journal files older than the retention period")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON lines")
	return cmd
}

func printJournal(w io.Writer, dir string, since time.Time, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		return wal.Replay(dir, since, func(e *wal.Entry) error {
			return enc.Encode(e)
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tSEQ\tTYPE\tRESOURCE\tERROR")
	err := wal.Replay(dir, since, func(e *wal.Entry) error {
		resource := e.ResourceID
		if resource == "" {
			resource = "-"
		}
		_, err := fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Sequence, e.Type, resource, e.Error)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}
