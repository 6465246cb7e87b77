package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ranking run history",
	Long:  "Commands for listing runs, viewing their ranked leads, and summarizing LLM spend.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranking runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its ranked leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		leads, err := st.GetRankedLeads(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show leads")
		}

		out := struct {
			Run   *model.RankingRun  `json:"run"`
			Leads []model.RankedLead `json:"leads"`
		}{Run: run, Leads: leads}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- runs usage --

var runsUsageCmd = &cobra.Command{
	Use:   "usage <run-id>",
	Short: "Show per-call LLM usage and total cost for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.RunUsage(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs usage")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No usage recorded for this run.")
			return nil
		}

		formatUsage(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, completed, failed, cancelled)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsUsageCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RankingRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTOP_N\tMIN_SCORE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t---------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.TopN,
			r.MinScore,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatUsage writes per-call usage rows and a cost total to w.
func formatUsage(out io.Writer, entries []model.UsageEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OPERATION\tPASS\tMODEL\tIN_TOKENS\tOUT_TOKENS\tCOST_USD")
	_, _ = fmt.Fprintln(w, "---------\t----\t-----\t---------\t----------\t--------")

	var total float64
	for _, e := range entries {
		total += e.CostUSD
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%.4f\n",
			e.Operation, e.Pass, e.Model, e.InputTokens, e.OutputTokens, e.CostUSD)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nTotal: $%.4f over %d calls\n", total, len(entries))
}
