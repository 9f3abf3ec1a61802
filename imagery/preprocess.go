// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// InputSize is the side of the square images the classifiers take.
const InputSize = 128

// Decode parses an encoded tile.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &TileError{Type: ErrorTypeInvalidImage, Message: "decoding tile", Err: err}
	}

	return img, nil
}

// Resize scales img to the classifier input size with bilinear filtering.
func Resize(img image.Image) *image.NRGBA {
	return imaging.Resize(img, InputSize, InputSize, imaging.Linear)
}

// Tensor converts img to a channel-first RGB tensor of InputSize x InputSize
// with values in [0, 1]. Alpha is dropped.
func Tensor(img image.Image) [][][]float32 {
	resized := Resize(img)
	tensor := make([][][]float32, 3)

	for c := range tensor {
		tensor[c] = make([][]float32, InputSize)
		for y := range tensor[c] {
			tensor[c][y] = make([]float32, InputSize)
		}
	}

	for y := range InputSize {
		row := resized.Pix[y*resized.Stride:]
		for x := range InputSize {
			px := row[x*4 : x*4+3]
			for c := range 3 {
				tensor[c][y][x] = float32(px[c]) / 255
			}
		}
	}

	return tensor
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
