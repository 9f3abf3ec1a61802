// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/poi295/camellones/audit"
	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/pipeline"
	"github.com/poi295/camellones/utils/httputils"
	"github.com/spf13/cobra"
)

// Tile providers and classifier backends selectable from the command line.
const (
	ProviderHere   = "here"
	ProviderGoogle = "google"

	BackendServer = "server"
	BackendVision = "vision"
)

type imageryOptions struct {
	Tiles    imagery.Options
	Provider string
	HereKey  string
	MapsKey  string

	Backend        string
	ModelURL       string
	ModelHealthURL string
	SidesModelURL  string
	OpenAIKey      string
	OpenAIBaseURL  string
	VisionModel    string
	NoSides        bool

	Trace     bool
	TraceBody bool
	Timeout   time.Duration
}

var (
	pipelineOptions = pipeline.DefaultOptions()
	imgOptions      = &imageryOptions{}
)

// addPairingFlags registers the flags that tune the pairing engine and the
// dataset selection.
func addPairingFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&pipelineOptions.DataDir, "data-dir", env("data", "DATA_DIR"), "Directory holding NAV.geojson and POI.csv")
	f.Float64Var(&pipelineOptions.Pairing.DotThreshold, "dot-threshold", pipelineOptions.Pairing.DotThreshold, "Minimum heading alignment for two links to pair")
	f.Float64Var(&pipelineOptions.Pairing.MaxDist, "max-dist", pipelineOptions.Pairing.MaxDist, "Maximum distance between reference nodes, in degrees")
	f.IntVar(&pipelineOptions.Pairing.Neighbors, "neighbors", pipelineOptions.Pairing.Neighbors, "Neighbours considered on each side of the sorted index")
	f.Float64Var(&pipelineOptions.Pairing.TieTolerance, "tie-tolerance", pipelineOptions.Pairing.TieTolerance, "Alignment difference under which the closest candidate wins")
	f.BoolVar(&pipelineOptions.Dataset.POILinksOnly, "poi-links-only", false, "Only pair links carrying a selected POI")
}

// addImageryFlags registers the flags of the tile and classifier adapters
// and of the audit stage.
func addImageryFlags(c *cobra.Command) {
	defaults := imagery.DefaultOptions()

	f := c.Flags()
	f.StringVar(&pipelineOptions.TempDir, "temp-dir", env("", "TEMP_DIR"), "Where the scratch tile directory is created")
	f.BoolVar(&pipelineOptions.KeepTiles, "keep-tiles", false, "Keep the downloaded tiles after the run")
	f.IntVar(&pipelineOptions.Workers, "workers", runtime.NumCPU(), "Concurrent imagery checks")
	f.Float64Var(&pipelineOptions.SideOffset, "side-offset", audit.DefaultSideOffset, "Distance to the side tiles, in degrees")
	f.BoolVar(&pipelineOptions.Quiet, "quiet", false, "Disable progress reporting")

	f.StringVar(&imgOptions.Provider, "tiles", ProviderHere, "Tile provider: here or google")
	f.StringVar(&imgOptions.HereKey, "here-api-key", env("", "HERE_API_KEY", "API_KEY"), "HERE API key")
	f.StringVar(&imgOptions.MapsKey, "maps-api-key", "", "Google Static Maps API key, else GOOGLE_MAPS_API_KEY or ADC discovery")
	f.IntVar(&imgOptions.Tiles.Zoom, "zoom", envInt("SATELLITE_ZOOM_LEVEL", defaults.Zoom), "Tile zoom level")
	f.StringVar(&imgOptions.Tiles.Format, "format", env(defaults.Format, "SATELLITE_TILE_FORMAT"), "Tile image format")
	f.IntVar(&imgOptions.Tiles.Size, "size", envInt("SATELLITE_TILE_SIZE", defaults.Size), "Tile size in pixels")

	f.StringVar(&imgOptions.Backend, "classifier", BackendServer, "Classifier backend: server or vision")
	f.StringVar(&imgOptions.ModelURL, "model-url", env("", "MODEL_URL"), "Median model prediction endpoint")
	f.StringVar(&imgOptions.ModelHealthURL, "model-health-url", "", "Health endpoint probed before the run")
	f.StringVar(&imgOptions.SidesModelURL, "sides-model-url", env("", "SIDES_MODEL_URL"), "Sides model prediction endpoint")
	f.StringVar(&imgOptions.OpenAIKey, "openai-api-key", env("", "OPENAI_API_KEY"), "API key of the vision backend")
	f.StringVar(&imgOptions.OpenAIBaseURL, "openai-base-url", "", "OpenAI compatible API base URL")
	f.StringVar(&imgOptions.VisionModel, "vision-model", imagery.DefaultVisionModel, "Vision model name")
	f.BoolVar(&imgOptions.NoSides, "no-sides", false, "Skip the sides check")

	f.BoolVar(&imgOptions.Trace, "trace", false, "Dump the HTTP traffic to stderr")
	f.BoolVar(&imgOptions.TraceBody, "trace-body", false, "Include the non image bodies in the dump")
	f.DurationVar(&imgOptions.Timeout, "timeout", 30*time.Second, "Timeout of each HTTP call")
}

func (o *imageryOptions) client() *http.Client {
	return httputils.NewClient(httputils.ClientOptions{
		Trace:     o.Trace,
		TraceBody: o.TraceBody,
		UserAgent: fmt.Sprintf("camellones/%s", Version),
		Timeout:   o.Timeout,
	})
}

// tileProvider builds the selected tile provider.
func (o *imageryOptions) tileProvider(ctx context.Context) (imagery.TileProvider, error) {
	if err := o.Tiles.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(o.Provider) {
	case ProviderHere:
		if o.HereKey == "" {
			return nil, fmt.Errorf("HERE tiles need an API key: set --here-api-key or HERE_API_KEY")
		}

		return imagery.NewHereTiles(o.HereKey, o.Tiles, o.client()), nil
	case ProviderGoogle:
		key, err := imagery.GoogleAPIKey(ctx, o.MapsKey)
		if err != nil {
			return nil, fmt.Errorf("resolving Google Static Maps key: %w", err)
		}

		return imagery.NewGoogleStaticMaps(key, o.Tiles, o.client()), nil
	default:
		return nil, fmt.Errorf("unknown tile provider %q", o.Provider)
	}
}

// oracles builds the selected classifiers. The sides classifier is
// optional.
func (o *imageryOptions) oracles() (audit.Oracles, error) {
	var oracles audit.Oracles

	switch strings.ToLower(o.Backend) {
	case BackendServer:
		if o.ModelURL == "" {
			return oracles, fmt.Errorf("%w: set --model-url or MODEL_URL", imagery.ErrClassifierUnavailable)
		}

		oracles.Primary = imagery.NewModelServer(o.ModelURL, o.ModelHealthURL, o.client())

		if o.SidesModelURL != "" && !o.NoSides {
			oracles.Sides = imagery.NewModelServer(o.SidesModelURL, "", o.client())
		}
	case BackendVision:
		config := imagery.VisionConfig{
			APIKey:     o.OpenAIKey,
			BaseURL:    o.OpenAIBaseURL,
			Model:      o.VisionModel,
			Prompt:     imagery.MedianPrompt,
			HTTPClient: o.client(),
		}

		primary, err := imagery.NewVisionModel(config)
		if err != nil {
			return oracles, err
		}

		oracles.Primary = primary

		if !o.NoSides {
			config.Prompt = imagery.SidesPrompt

			sides, err := imagery.NewVisionModel(config)
			if err != nil {
				return oracles, err
			}

			oracles.Sides = sides
		}
	default:
		return oracles, fmt.Errorf("unknown classifier backend %q", o.Backend)
	}

	if oracles.Sides == nil {
		log.Println("No sides classifier: POIs off the median are reported as no_poi")
	}

	return oracles, nil
}

// newPipeline wires the configured adapters into a pipeline.
func newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	tiles, err := imgOptions.tileProvider(ctx)
	if err != nil {
		return nil, err
	}

	oracles, err := imgOptions.oracles()
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipelineOptions, tiles, oracles), nil
}
