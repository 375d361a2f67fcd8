// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/recordml/recordml/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rgbImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 200, A: 255})
		}
	}
	return img
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, rgbImage(5, 3)))
	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Pt(5, 3), img.Bounds().Size())
	assert.Equal(t, 3, ChannelsFor(img))

	buf.Reset()
	gray := image.NewGray(image.Rect(0, 0, 4, 7))
	require.NoError(t, jpeg.Encode(&buf, gray, nil))
	img, _ = must.M2(image.Decode(bytes.NewReader(buf.Bytes())))
	assert.Equal(t, 1, ChannelsFor(img))

	_, _, err = Decode([]byte("not an image"))
	require.Error(t, err)
}

func TestResize(t *testing.T) {
	img := Resize(rgbImage(320, 213), 512, 256)
	assert.Equal(t, image.Pt(256, 512), img.Bounds().Size())
}

func TestToTensor(t *testing.T) {
	img := rgbImage(4, 2)
	img.Set(3, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})

	tensor := ToTensor(dtypes.Uint8).Single(img)
	assert.Equal(t, []int{2, 4, 3}, tensor.Shape().Dimensions)
	tensors.ConstFlatData(tensor, func(flat []uint8) {
		// Pixel (x=3, y=0) is at position (0*4+3)*3.
		assert.Equal(t, []uint8{255, 0, 0}, flat[9:12])
		// Pixel (x=1, y=1).
		assert.Equal(t, []uint8{1, 1, 200}, flat[15:18])
	})

	tensor = ToTensor(dtypes.Float32).Single(img)
	tensors.ConstFlatData(tensor, func(flat []float32) {
		assert.InDelta(t, 1.0, flat[9], 1e-6)
		for _, v := range flat {
			assert.True(t, v >= 0 && v <= 1)
		}
	})

	tensor = ToTensor(dtypes.Uint8).Channels(1).Single(image.NewGray(image.Rect(0, 0, 3, 5)))
	assert.Equal(t, []int{5, 3, 1}, tensor.Shape().Dimensions)

	batch := ToTensor(dtypes.Float32).WithAlpha().Batch([]image.Image{img, img})
	assert.Equal(t, []int{2, 2, 4, 4}, batch.Shape().Dimensions)

	assert.Panics(t, func() {
		ToTensor(dtypes.Uint8).Batch([]image.Image{img, rgbImage(3, 3)})
	})
}

func TestToImage(t *testing.T) {
	img := rgbImage(6, 5)
	tensor := ToTensor(dtypes.Float32).Single(img)
	back := ToImage().Single(tensor)
	assert.Equal(t, img.Bounds().Size(), back.Bounds().Size())
	for y := range 5 {
		for x := range 6 {
			r0, g0, b0, _ := img.At(x, y).RGBA()
			r1, g1, b1, _ := back.At(x, y).RGBA()
			assert.Equal(t, []uint32{r0, g0, b0}, []uint32{r1, g1, b1}, "pixel (%d, %d)", x, y)
		}
	}
}
