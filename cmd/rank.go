package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/pipeline"
)

var (
	rankPersona     string
	rankPersonaFile string
	rankPersonaName string
	rankTopN        int
	rankMinScore    float64
	rankIngestionID string
	rankJSON        bool
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank imported leads against a buyer persona",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec, err := resolvePersona(rankPersona, rankPersonaFile, rankPersonaName)
		if err != nil {
			return err
		}

		topN := rankTopN
		if topN <= 0 {
			topN = cfg.Ranking.DefaultTopN
		}
		minScore := rankMinScore
		if minScore < 0 {
			minScore = cfg.Ranking.DefaultMinScore
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		payload, err := env.orchestrator.Execute(ctx, pipeline.RunParams{
			PersonaSpec: spec,
			TopN:        topN,
			MinScore:    minScore,
			IngestionID: rankIngestionID,
		}, progressLogger)
		if err != nil {
			return eris.Wrap(err, "ranking run")
		}

		if rankJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}

		formatRunPayload(os.Stdout, payload)
		return nil
	},
}

func init() {
	rankCmd.Flags().StringVar(&rankPersona, "persona", "", "inline persona spec text")
	rankCmd.Flags().StringVar(&rankPersonaFile, "persona-file", "", "YAML persona library file")
	rankCmd.Flags().StringVar(&rankPersonaName, "persona-name", "", "persona name within --persona-file")
	rankCmd.Flags().IntVar(&rankTopN, "top-n", 0, "leads to select per company (default from config)")
	rankCmd.Flags().Float64Var(&rankMinScore, "min-score", -1, "relevance threshold 0-1 (default from config)")
	rankCmd.Flags().StringVar(&rankIngestionID, "ingestion-id", "", "restrict the run to one import batch")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "print the full payload as JSON")
	rootCmd.AddCommand(rankCmd)
}

// progressLogger surfaces run progress through the structured log.
func progressLogger(ev model.ProgressEvent) {
	switch ev.Type {
	case model.EventStart:
		zap.L().Info("ranking started", zap.Int("companies", ev.TotalCompanies))
	case model.EventCompanyResult:
		zap.L().Info("company ranked",
			zap.String("company", ev.CompanyName),
			zap.Int("index", ev.CompanyIndex),
		)
	case model.EventError:
		zap.L().Error("ranking failed", zap.String("error", ev.Error))
	}
}

// formatRunPayload writes a tabular summary of the selected leads per
// company, then the run id for follow-up commands.
func formatRunPayload(out io.Writer, payload *model.RunPayload) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPANY\tRANK\tNAME\tTITLE\tSCORE\tCONF\tREASON")
	_, _ = fmt.Fprintln(w, "-------\t----\t----\t-----\t-----\t----\t------")

	for _, company := range payload.Companies {
		for _, lead := range company.Leads {
			if !lead.Selected {
				continue
			}
			score := "-"
			if lead.Score != nil {
				score = fmt.Sprintf("%.2f", *lead.Score)
			}
			flag := ""
			if lead.NeedsReview {
				flag = " *"
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%.2f%s\t%s\n",
				company.CompanyName,
				lead.Rank,
				lead.FullName,
				lead.Title,
				score,
				lead.Confidence,
				flag,
				lead.Reason,
			)
		}
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nRun %s complete (* = needs review). Full results: lead-ranker runs show %s\n",
		truncateID(payload.RunID), payload.RunID)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
