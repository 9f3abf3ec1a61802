// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/poi295/camellones/store"
	"github.com/spf13/cobra"
)

var processOptions struct {
	Output string
	Report bool
	DBPath string
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Pair the links, label the medians and check the POIs on them",
	Long: `Runs the whole analysis over NAV.geojson and POI.csv and writes the
results, keyed by POI id, as JSON.

$ camellones process --data-dir data --model-url http://localhost:8080/predictions/median -o results.json
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newPipeline(cmd.Context())
		if err != nil {
			return err
		}

		report, err := p.Run(cmd.Context())
		if err != nil {
			return err
		}

		if processOptions.DBPath != "" {
			repo, err := store.Open(processOptions.DBPath)
			if err != nil {
				return err
			}
			defer repo.DB().Close()

			runID, err := repo.SaveReport(report)
			if err != nil {
				return fmt.Errorf("saving run: %w", err)
			}

			log.Printf("Run %d stored in %s", runID, processOptions.DBPath)
		}

		var v any = report.Results
		if processOptions.Report {
			v = report
		}

		return writeJSON(processOptions.Output, v)
	},
}

// writeJSON writes v indented to path, stdout being "-".
func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout

	if path != "-" && path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()

		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(processCmd)
	addPairingFlags(processCmd)
	addImageryFlags(processCmd)
	processCmd.Flags().StringVarP(&processOptions.Output, "output", "o", "-", "Output file, - for stdout")
	processCmd.Flags().BoolVar(&processOptions.Report, "report", false, "Write the whole run report instead of the results only")
	processCmd.Flags().StringVar(&processOptions.DBPath, "db", "", "DuckDB file where the run is stored")
}
