// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAndTensor(t *testing.T) {
	img, err := Decode(pngTile(t, color.NRGBA{R: 255, G: 51, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	tensor := Tensor(img)
	require.Len(t, tensor, 3)

	for c := range tensor {
		require.Len(t, tensor[c], InputSize)

		for y := range tensor[c] {
			require.Len(t, tensor[c][y], InputSize)
		}
	}

	assert.InDelta(t, 1.0, tensor[0][0][0], 1e-6)
	assert.InDelta(t, 0.2, tensor[1][64][64], 1e-6)
	assert.InDelta(t, 0.0, tensor[2][127][127], 1e-6)
}

func TestTensorKeepsLayout(t *testing.T) {
	// left half white, right half black
	img := imaging.New(InputSize, InputSize, color.Black)
	img = imaging.Paste(img, imaging.New(InputSize/2, InputSize, color.White), image.Pt(0, 0))

	tensor := Tensor(img)
	assert.InDelta(t, 1.0, tensor[0][10][0], 1e-6)
	assert.InDelta(t, 0.0, tensor[0][10][InputSize-1], 1e-6)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte("<html>not an image</html>"))

	var tileErr *TileError
	require.ErrorAs(t, err, &tileErr)
	assert.Equal(t, ErrorTypeInvalidImage, tileErr.Type)
}
