// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/network"
	"github.com/poi295/camellones/pipeline"
	"github.com/poi295/camellones/spatial"
	"github.com/poi295/camellones/utils/textutils"
	"github.com/spf13/cobra"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Dev tools",
}

// locateResult is what debug locate prints.
type locateResult struct {
	LinkID        int64           `json:"link_id"`
	Point         spatial.Point   `json:"point"`
	Perpendicular [2]float64      `json:"perpendicular"`
	Reference     spatial.Point   `json:"reference"`
	Tile          spatial.Tile    `json:"tile"`
	TileWKT       string          `json:"tile_wkt"`
	H3            int64           `json:"h3_res9"`
	Sides         []spatial.Point `json:"sides"`
	// SideDistance is how far the side points are from the POI, in meters.
	SideDistance float64 `json:"side_distance_m"`
}

var debugLocateCmd = &cobra.Command{
	Use:   "locate <link_id> <percent> <side>",
	Short: "Place a POI on its link",
	Long: `Prints the point a POI is checked at, the perpendicular towards its side,
the tile that covers it and the two side points.

$ camellones debug locate 702345123 35 L
`,
	Args: cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		linkID, ok := textutils.AnyToInt64(args[0])
		if !ok {
			return fmt.Errorf("invalid link id %q", args[0])
		}

		percent, err := textutils.ParseFloat(args[1])
		if err != nil {
			return fmt.Errorf("invalid percent %q: %w", args[1], err)
		}

		side, err := spatial.ParseSide(args[2])
		if err != nil {
			return err
		}

		in, err := pipeline.FindInputs(pipeline.CandidateDirs(pipelineOptions.DataDir))
		if err != nil {
			return err
		}

		segments, err := network.LoadSegments(in.Nav)
		if err != nil {
			return err
		}

		res, err := locate(segments, linkID, percent, side, pipelineOptions.SideOffset, imgOptions.Tiles.Zoom)
		if err != nil {
			return fmt.Errorf("%w in %s", err, in.Nav)
		}

		return writeJSON("-", res)
	},
}

// locate places a POI on its link and derives the points the imagery check
// looks at.
func locate(segments []*network.Segment, linkID int64, percent float64, side spatial.Side, offset float64, zoom int) (locateResult, error) {
	var segment *network.Segment

	for _, s := range segments {
		if s.LinkID == linkID {
			segment = s

			break
		}
	}

	if segment == nil {
		return locateResult{}, fmt.Errorf("link %d not found", linkID)
	}

	loc, err := spatial.LocatePointOnRoute(segment.Route, percent, side)
	if err != nil {
		return locateResult{}, err
	}

	p := spatial.PointFromOrb(loc.Point)

	cell, err := p.H3(9)
	if err != nil {
		return locateResult{}, err
	}

	tile := spatial.TileOf(p, zoom)
	declared := spatial.PointFromOrb(spatial.Offset(loc.Point, loc.Perpendicular, offset))
	opposite := spatial.PointFromOrb(spatial.Offset(loc.Point, loc.Perpendicular, -offset))

	return locateResult{
		LinkID:        linkID,
		Point:         p,
		Perpendicular: loc.Perpendicular,
		Reference:     spatial.PointFromOrb(loc.Reference),
		Tile:          tile,
		TileWKT:       tile.WKT(),
		H3:            cell,
		Sides:         []spatial.Point{declared, opposite},
		SideDistance:  p.HaversineDistance(&declared),
	}, nil
}

var debugTileOptions struct {
	Output   string
	Classify bool
}

var debugTileCmd = &cobra.Command{
	Use:   "tile <lat> <lng>",
	Short: "Download the imagery around a point and optionally classify it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := textutils.ParseFloat(args[0])
		if err != nil {
			return fmt.Errorf("invalid latitude %q: %w", args[0], err)
		}

		lng, err := textutils.ParseFloat(args[1])
		if err != nil {
			return fmt.Errorf("invalid longitude %q: %w", args[1], err)
		}

		p := spatial.Point{Lat: lat, Lng: lng}

		tiles, err := imgOptions.tileProvider(cmd.Context())
		if err != nil {
			return err
		}

		data, err := tiles.Fetch(cmd.Context(), p)
		if err != nil {
			return err
		}

		output := debugTileOptions.Output
		if output == "" {
			output = tiles.Key(p)
		}

		if err := os.WriteFile(output, data, 0o600); err != nil {
			return fmt.Errorf("writing tile: %w", err)
		}

		log.Printf("Tile %s written to %s (%d bytes)", spatial.TileOf(p, imgOptions.Tiles.Zoom), output, len(data))

		if !debugTileOptions.Classify {
			return nil
		}

		oracles, err := imgOptions.oracles()
		if err != nil {
			return err
		}

		img, err := imagery.Decode(data)
		if err != nil {
			return err
		}

		prob, err := oracles.Primary.Predict(cmd.Context(), imagery.Resize(img))
		if err != nil {
			return err
		}

		fmt.Printf("%s\t%.4f\t%t\n", p, prob, imagery.Positive(prob))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugLocateCmd)
	debugCmd.AddCommand(debugTileCmd)

	debugLocateCmd.Flags().StringVar(&pipelineOptions.DataDir, "data-dir", env("data", "DATA_DIR"), "Directory holding NAV.geojson")
	debugLocateCmd.Flags().Float64Var(&pipelineOptions.SideOffset, "side-offset", pipelineOptions.SideOffset, "Distance to the side points, in degrees")
	debugLocateCmd.Flags().IntVar(&imgOptions.Tiles.Zoom, "zoom", envInt("SATELLITE_ZOOM_LEVEL", imagery.DefaultOptions().Zoom), "Tile zoom level")

	addImageryFlags(debugTileCmd)
	debugTileCmd.Flags().StringVarP(&debugTileOptions.Output, "output", "o", "", "Output file, the tile key when empty")
	debugTileCmd.Flags().BoolVar(&debugTileOptions.Classify, "classify", false, "Run the median classifier on the tile")
}
