// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositive(t *testing.T) {
	assert.True(t, Positive(0.51))
	assert.False(t, Positive(0.5))
	assert.False(t, Positive(0.1))
}

func newModelServer(t *testing.T, status int, response string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(status)

			return
		}

		var req struct {
			Instances [][][][]float32 `json:"instances"`
		}

		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		assert.Len(t, req.Instances, 1)
		assert.Len(t, req.Instances[0], 3)
		assert.Len(t, req.Instances[0][0], InputSize)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestModelServerPredict(t *testing.T) {
	img := imaging.New(256, 256, color.White)

	tests := []struct {
		name     string
		status   int
		response string
		want     float64
		wantErr  bool
	}{
		{name: "scalar", status: http.StatusOK, response: `{"predictions":[0.3]}`, want: 0.3},
		{name: "nested", status: http.StatusOK, response: `{"predictions":[[0.8]]}`, want: 0.8},
		{name: "empty", status: http.StatusOK, response: `{"predictions":[]}`, wantErr: true},
		{name: "out of range", status: http.StatusOK, response: `{"predictions":[1.5]}`, wantErr: true},
		{name: "not a number", status: http.StatusOK, response: `{"predictions":["yes"]}`, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, response: `boom`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newModelServer(t, tt.status, tt.response)
			m := NewModelServer(srv.URL+"/predict", "", srv.Client())

			got, err := m.Predict(context.Background(), img)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrExternalService)

				return
			}

			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestModelServerPing(t *testing.T) {
	healthy := newModelServer(t, http.StatusOK, "")
	require.NoError(t, NewModelServer(healthy.URL, healthy.URL+"/ping", healthy.Client()).Ping(context.Background()))

	down := newModelServer(t, http.StatusServiceUnavailable, "")
	err := NewModelServer(down.URL, down.URL+"/ping", down.Client()).Ping(context.Background())
	assert.ErrorIs(t, err, ErrClassifierUnavailable)

	// nothing to probe
	require.NoError(t, NewModelServer(down.URL, "", down.Client()).Ping(context.Background()))
}

func TestCheck(t *testing.T) {
	assert.ErrorIs(t, Check(context.Background(), "primary", nil), ErrClassifierUnavailable)

	fixed := Func(func(context.Context, image.Image) (float64, error) { return 1, nil })
	require.NoError(t, Check(context.Background(), "primary", fixed))

	down := newModelServer(t, http.StatusServiceUnavailable, "")
	err := Check(context.Background(), "sides", NewModelServer(down.URL, down.URL, down.Client()))
	require.ErrorIs(t, err, ErrClassifierUnavailable)
	assert.Contains(t, err.Error(), "sides classifier")
}
