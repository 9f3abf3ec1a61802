// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
)

// Threshold is the probability above which a classifier answer is positive.
const Threshold = 0.5

// Positive thresholds a classifier probability.
func Positive(p float64) bool {
	return p > Threshold
}

// Classifier scores an image with the probability of the trained class.
type Classifier interface {
	Predict(ctx context.Context, img image.Image) (float64, error)
}

// Pinger is implemented by classifiers whose backend can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check verifies a classifier is configured and, when it can be probed, that
// its backend answers.
func Check(ctx context.Context, name string, c Classifier) error {
	if c == nil {
		return fmt.Errorf("%w: %s classifier is not configured", ErrClassifierUnavailable, name)
	}

	if p, ok := c.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s classifier: %w", name, err)
		}
	}

	return nil
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: probability out of range: %v", ErrExternalService, p)
	}

	return nil
}

// ModelServer calls an HTTP inference server speaking the
// {"instances": [...]} / {"predictions": [...]} protocol.
type ModelServer struct {
	// URL receives the prediction requests.
	URL string
	// HealthURL, when set, is probed by Ping.
	HealthURL string

	client *http.Client
}

// NewModelServer creates a classifier backed by an inference server.
func NewModelServer(url, healthURL string, client *http.Client) *ModelServer {
	return &ModelServer{URL: url, HealthURL: healthURL, client: client}
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

// Predict implements Classifier.
func (m *ModelServer) Predict(ctx context.Context, img image.Image) (float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][][][]float32{Tensor(img)}})
	if err != nil {
		return 0, fmt.Errorf("encoding prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building prediction request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: model server: %w", ErrExternalService, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return 0, fmt.Errorf("%w: model server returned status %d: %s", ErrExternalService, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("%w: decoding model server response: %w", ErrExternalService, err)
	}

	if len(pr.Predictions) == 0 {
		return 0, fmt.Errorf("%w: model server returned no predictions", ErrExternalService)
	}

	p, err := firstNumber(pr.Predictions[0])
	if err != nil {
		return 0, err
	}

	return p, checkProbability(p)
}

// firstNumber reads a prediction that is either a number or a (nested)
// array whose first element is one.
func firstNumber(raw json.RawMessage) (float64, error) {
	for range 4 {
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, nil
		}

		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			break
		}

		raw = arr[0]
	}

	return 0, fmt.Errorf("%w: unexpected prediction %s", ErrExternalService, raw)
}

// Ping implements Pinger.
func (m *ModelServer) Ping(ctx context.Context) error {
	if m.HealthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: health check returned status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	return nil
}

// Func adapts a function to Classifier.
type Func func(ctx context.Context, img image.Image) (float64, error)

// Predict implements Classifier.
func (f Func) Predict(ctx context.Context, img image.Image) (float64, error) {
	return f(ctx, img)
}
