// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagery fetches satellite imagery around a point and runs the
// image classifiers on it.
package imagery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/poi295/camellones/spatial"
)

// Options describe the requested tiles.
type Options struct {
	Zoom   int    `json:"zoom"`
	Format string `json:"format"`
	Size   int    `json:"size"`
}

// DefaultOptions returns the imagery settings the classifiers were trained
// with.
func DefaultOptions() Options {
	return Options{Zoom: 19, Format: "png", Size: 256}
}

// Validate checks the tile settings.
func (o Options) Validate() error {
	if o.Zoom < 0 || o.Zoom > 22 {
		return fmt.Errorf("zoom must be within [0, 22], got %d", o.Zoom)
	}

	switch o.Format {
	case "png", "jpeg", "jpg":
	default:
		return fmt.Errorf("unsupported tile format %q", o.Format)
	}

	if o.Size != 256 && o.Size != 512 {
		return fmt.Errorf("tile size must be 256 or 512, got %d", o.Size)
	}

	return nil
}

// TileProvider returns the satellite image around a point.
type TileProvider interface {
	// Fetch returns the encoded image covering p.
	Fetch(ctx context.Context, p spatial.Point) ([]byte, error)
	// Key names the image Fetch returns for p, for caching.
	Key(p spatial.Point) string
}

// maxErrorBody bounds how much of a failed response is kept as detail.
const maxErrorBody = 512

func get(ctx context.Context, client *http.Client, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TileError{Type: ErrorTypeInvalidRequest, Message: "building tile request", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, ClassifyHTTPError(resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if len(data) == 0 {
		return nil, &TileError{Type: ErrorTypeInvalidImage, Message: "empty tile"}
	}

	return data, nil
}

// HereBaseURL is the HERE raster tile API v3 endpoint.
const HereBaseURL = "https://maps.hereapi.com/v3/base/mc"

// HereTiles fetches web mercator satellite tiles from HERE.
type HereTiles struct {
	// BaseURL defaults to HereBaseURL.
	BaseURL string

	apiKey  string
	options Options
	client  *http.Client
}

// NewHereTiles creates a HERE tile provider.
func NewHereTiles(apiKey string, options Options, client *http.Client) *HereTiles {
	return &HereTiles{
		BaseURL: HereBaseURL,
		apiKey:  apiKey,
		options: options,
		client:  client,
	}
}

// URL returns the address of tile t.
func (h *HereTiles) URL(t spatial.Tile) string {
	params := url.Values{}
	params.Set("style", "satellite.day")
	params.Set("size", strconv.Itoa(h.options.Size))
	params.Set("apiKey", h.apiKey)

	return fmt.Sprintf("%s/%d/%d/%d/%s?%s", h.BaseURL, t.Z, t.X, t.Y, h.options.Format, params.Encode())
}

// Key implements TileProvider.
func (h *HereTiles) Key(p spatial.Point) string {
	t := spatial.TileOf(p, h.options.Zoom)

	return fmt.Sprintf("here_%d_%d_%d.%s", t.Z, t.X, t.Y, h.options.Format)
}

// Fetch implements TileProvider. The image is the tile containing p, so p
// isn't necessarily at its centre.
func (h *HereTiles) Fetch(ctx context.Context, p spatial.Point) ([]byte, error) {
	t := spatial.TileOf(p, h.options.Zoom)

	data, err := get(ctx, h.client, h.URL(t))
	if err != nil {
		return nil, fmt.Errorf("fetching HERE tile %s: %w", t, err)
	}

	return data, nil
}

// GoogleStaticMapsURL is the Google Static Maps endpoint.
const GoogleStaticMapsURL = "https://maps.googleapis.com/maps/api/staticmap"

// GoogleStaticMaps fetches satellite images centred on the point.
type GoogleStaticMaps struct {
	// BaseURL defaults to GoogleStaticMapsURL.
	BaseURL string

	apiKey  string
	options Options
	client  *http.Client
}

// NewGoogleStaticMaps creates a Google Static Maps provider.
func NewGoogleStaticMaps(apiKey string, options Options, client *http.Client) *GoogleStaticMaps {
	return &GoogleStaticMaps{
		BaseURL: GoogleStaticMapsURL,
		apiKey:  apiKey,
		options: options,
		client:  client,
	}
}

// URL returns the address of the image centred on p.
func (g *GoogleStaticMaps) URL(p spatial.Point) string {
	params := url.Values{}
	params.Set("center", fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lng))
	params.Set("zoom", strconv.Itoa(g.options.Zoom))
	params.Set("size", fmt.Sprintf("%dx%d", g.options.Size, g.options.Size))
	params.Set("maptype", "satellite")
	params.Set("format", g.options.Format)
	params.Set("key", g.apiKey)

	return g.BaseURL + "?" + params.Encode()
}

// Key implements TileProvider.
func (g *GoogleStaticMaps) Key(p spatial.Point) string {
	return fmt.Sprintf("google_%d_%.7f_%.7f.%s", g.options.Zoom, p.Lat, p.Lng, g.options.Format)
}

// Fetch implements TileProvider.
func (g *GoogleStaticMaps) Fetch(ctx context.Context, p spatial.Point) ([]byte, error) {
	data, err := get(ctx, g.client, g.URL(p))
	if err != nil {
		return nil, fmt.Errorf("fetching static map at %s: %w", p, err)
	}

	return data, nil
}

// DiskCache keeps the fetched images in a directory and serves them from
// there on later requests.
type DiskCache struct {
	Provider TileProvider
	Dir      string
}

// Key implements TileProvider.
func (c *DiskCache) Key(p spatial.Point) string {
	return c.Provider.Key(p)
}

// Path returns where the image for p is stored.
func (c *DiskCache) Path(p spatial.Point) string {
	return filepath.Join(c.Dir, c.Provider.Key(p))
}

// Fetch implements TileProvider.
func (c *DiskCache) Fetch(ctx context.Context, p spatial.Point) ([]byte, error) {
	path := c.Path(p)

	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}

	data, err := c.Provider.Fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	if err := writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("caching tile: %w", err)
	}

	return data, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating tile directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())

		return fmt.Errorf("writing %s: %w", f.Name(), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())

		return fmt.Errorf("closing %s: %w", f.Name(), err)
	}

	return os.Rename(f.Name(), path)
}
