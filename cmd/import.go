package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-ranker/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import leads from a CSV or XLSX file",
	Long:  "Imports a contact list into the store. Format is inferred from the file extension; rows without a company or without both name and email are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ing := ingest.New(st)

		var res *ingest.Result
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			f, err := os.Open(path)
			if err != nil {
				return eris.Wrap(err, "open csv")
			}
			defer f.Close()
			res, err = ing.ImportCSV(ctx, f)
			if err != nil {
				return err
			}
		case ".xlsx":
			res, err = ing.ImportXLSX(ctx, path)
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unsupported file type: %s (want .csv or .xlsx)", filepath.Ext(path))
		}

		fmt.Printf("Imported %d leads across %d companies (%d rows skipped).\n",
			res.Leads, res.Companies, res.Skipped)
		fmt.Printf("Ingestion ID: %s\n", res.IngestionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
