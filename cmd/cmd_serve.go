// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/poi295/camellones/server"
	"github.com/poi295/camellones/store"
	"github.com/spf13/cobra"
)

var serveOptions struct {
	Port   int
	DBPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload and processing API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tiles, err := imgOptions.tileProvider(cmd.Context())
		if err != nil {
			return err
		}

		oracles, err := imgOptions.oracles()
		if err != nil {
			return err
		}

		// fail at startup rather than on the first request
		if err := oracles.Check(cmd.Context()); err != nil {
			return err
		}

		var repo store.Repository

		if serveOptions.DBPath != "" {
			repo, err = store.Open(serveOptions.DBPath)
			if err != nil {
				return err
			}
			defer repo.DB().Close()
		}

		s := server.NewServer(pipelineOptions, tiles, oracles, repo)

		return s.Run(fmt.Sprintf(":%d", serveOptions.Port))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addPairingFlags(serveCmd)
	addImageryFlags(serveCmd)
	serveCmd.Flags().IntVar(&serveOptions.Port, "port", envInt("PORT", 5000), "Listening port")
	serveCmd.Flags().StringVar(&serveOptions.DBPath, "db", "", "DuckDB file where the runs are stored")
}
