// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"log"

	"github.com/poi295/camellones/pipeline"
	"github.com/spf13/cobra"
)

var pairsOutput string

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Pair the links and export them with their median side as GeoJSON",
	Long: `Runs only the geometric stage: every multiply digitized link gets its
partner (pareja) and, when paired, the side where the median lies (camellon).
No imagery is fetched.
`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		in, err := pipeline.FindInputs(pipeline.CandidateDirs(pipelineOptions.DataDir))
		if err != nil {
			return err
		}

		segments, pois, err := pipeline.Load(in)
		if err != nil {
			return err
		}

		a, err := pipeline.Analyze(segments, pois, pipelineOptions.Pairing, pipelineOptions.Dataset)
		if err != nil {
			return err
		}

		log.Printf("%d POIs on a median, %d on links without a pair", len(a.OnMedian), len(a.Unpaired))

		return writeJSON(pairsOutput, a.FeatureCollection())
	},
}

func init() {
	rootCmd.AddCommand(pairsCmd)
	addPairingFlags(pairsCmd)
	pairsCmd.Flags().StringVarP(&pairsOutput, "output", "o", "-", "Output file, - for stdout")
}
