// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the upload and analysis API over HTTP.
package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/poi295/camellones/audit"
	"github.com/poi295/camellones/imagery"
	"github.com/poi295/camellones/pairing"
	"github.com/poi295/camellones/pipeline"
	"github.com/poi295/camellones/store"
)

// Form fields of the upload endpoint.
const (
	POIField     = "poiFile"
	StreetsField = "streetsFile"
)

// ProcessRequest holds the optional pairing parameters of a run. Absent
// fields keep the server defaults.
type ProcessRequest struct {
	DotThreshold *float64 `json:"dot_threshold" form:"dot_threshold"`
	MaxDist      *float64 `json:"max_dist" form:"max_dist"`
	Neighbors    *int     `json:"neighbors" form:"neighbors"`
}

func (r ProcessRequest) apply(cfg pairing.Config) pairing.Config {
	if r.DotThreshold != nil {
		cfg.DotThreshold = *r.DotThreshold
	}

	if r.MaxDist != nil {
		cfg.MaxDist = *r.MaxDist
	}

	if r.Neighbors != nil {
		cfg.Neighbors = *r.Neighbors
	}

	return cfg
}

// Server serves the upload and analysis API over a data directory.
type Server struct {
	opts    pipeline.Options
	tiles   imagery.TileProvider
	oracles audit.Oracles
	repo    store.Repository

	// one run at a time over the shared data dir
	mu   sync.Mutex
	last *pipeline.Report
}

// NewServer creates the API server. repo may be nil, in which case only the
// last run of the process is served.
func NewServer(opts pipeline.Options, tiles imagery.TileProvider, oracles audit.Oracles, repo store.Repository) *Server {
	return &Server{
		opts:    opts,
		tiles:   tiles,
		oracles: oracles,
		repo:    repo,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.Use(allowOrigins())

	r.GET("/api/health", s.health)
	r.POST("/api/upload-files", s.uploadFiles)
	r.POST("/api/process", s.process)
	r.GET("/api/results", s.results)
	r.GET("/api/results/cells", s.cells)

	return r
}

// Run creates the data directory and serves the API on addr.
func (s *Server) Run(addr string) error {
	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	log.Printf("Data directory: %s", s.opts.DataDir)
	log.Printf("Listening on %s", addr)

	return s.Router().Run(addr)
}

// allowOrigins lets the browser frontend call the API from another origin.
func allowOrigins() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)

			return
		}

		ctx.Next()
	}
}

func (s *Server) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Server is running"})
}

func (s *Server) uploadFiles(ctx *gin.Context) {
	poiFile, poiErr := ctx.FormFile(POIField)
	streetsFile, streetsErr := ctx.FormFile(StreetsField)

	if poiErr != nil || streetsErr != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing files in request"})

		return
	}

	if poiFile.Filename == "" || streetsFile.Filename == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file selected"})

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cleanDir(s.opts.DataDir); err != nil {
		log.Printf("Warning: could not clean up data directory: %v", err)
	}

	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})

		return
	}

	poiPath := filepath.Join(s.opts.DataDir, pipeline.POIFile)
	streetsPath := filepath.Join(s.opts.DataDir, pipeline.NavFile)

	if err := ctx.SaveUploadedFile(poiFile, poiPath); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})

		return
	}

	if err := ctx.SaveUploadedFile(streetsFile, streetsPath); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})

		return
	}

	log.Printf("Files saved to %s (%s, %s)", s.opts.DataDir, poiFile.Filename, streetsFile.Filename)

	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Files uploaded successfully",
		"poi_path":     poiPath,
		"streets_path": streetsPath,
	})
}

// cleanDir removes everything inside dir, keeping dir itself.
func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	var errs []error

	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(dir, e.Name())))
	}

	return errors.Join(errs...)
}

func (s *Server) process(ctx *gin.Context) {
	var req ProcessRequest
	if err := ctx.ShouldBind(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	opts := s.opts
	opts.Pairing = req.apply(opts.Pairing)

	if err := opts.Pairing.Validate(); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := pipeline.FindInputs([]string{opts.DataDir})
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return
	}

	report, err := pipeline.New(opts, s.tiles, s.oracles).RunInputs(ctx.Request.Context(), in)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, imagery.ErrClassifierUnavailable) {
			status = http.StatusServiceUnavailable
		}

		ctx.JSON(status, gin.H{"error": err.Error()})

		return
	}

	s.last = report

	resp := gin.H{
		"results":   report.Results,
		"counts":    report.Counts,
		"stats":     report.Stats,
		"discarded": report.Discarded,
	}

	if s.repo != nil {
		runID, err := s.repo.SaveReport(report)
		if err != nil {
			log.Printf("Error saving run: %v", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("saving run: %v", err)})

			return
		}

		resp["run_id"] = runID
	}

	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) results(ctx *gin.Context) {
	label := ctx.Query("label")

	if s.repo == nil {
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()

		if last == nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": store.ErrNoRuns.Error()})

			return
		}

		ctx.JSON(http.StatusOK, gin.H{"results": filterLabel(last.Results, label), "counts": last.Counts})

		return
	}

	run, err := s.repo.LatestRun()
	if errors.Is(err, store.ErrNoRuns) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	results, err := s.repo.Results(run.ID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"run":     run,
		"results": filterLabel(results, label),
		"counts":  results.Counts(),
	})
}

func filterLabel(results audit.Results, label string) audit.Results {
	if label == "" {
		return results
	}

	filtered := make(audit.Results)

	for key, rec := range results {
		if rec.Label == label {
			filtered[key] = rec
		}
	}

	return filtered
}

func (s *Server) cells(ctx *gin.Context) {
	if s.repo == nil {
		ctx.JSON(http.StatusNotImplemented, gin.H{"error": "no database configured"})

		return
	}

	res, err := strconv.Atoi(ctx.DefaultQuery("res", strconv.Itoa(store.H3ResCoarse)))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid res"})

		return
	}

	run, err := s.repo.LatestRun()
	if errors.Is(err, store.ErrNoRuns) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	counts, err := s.repo.CellSummary(run.ID, res)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, gin.H{"run_id": run.ID, "res": res, "cells": counts})
}
