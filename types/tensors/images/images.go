// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors, and to decode and resize encoded images.
//
// Decoding supports JPEG, PNG and GIF from the standard library, and BMP, TIFF and WebP
// from golang.org/x/image.
package images

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode an encoded image (any of the registered formats). It returns the image and the format name.
func Decode(data []byte) (img image.Image, format string, err error) {
	img, format, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		err = errors.Wrapf(err, "failed to decode image from %d bytes", len(data))
	}
	return
}

// Resize img to exactly height x width pixels, using linear interpolation.
func Resize(img image.Image, height, width int) image.Image {
	return imaging.Resize(img, width, height, imaging.Linear)
}

// ChannelsFor returns the number of channels natively held by img's colour model:
// 1 for gray-scale images, 3 otherwise (the alpha channel is not counted).
func ChannelsFor(img image.Image) int {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return 1
	}
	return 3
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    dtypes.DType
}

// ToTensor converts an image (or batch) to a tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		channels: 3,
		maxValue: 1.0,
		dtype:    dtype,
	}
	if !dtype.IsFloat() {
		// Use 255 for integer types.
		tt.maxValue = 255.0
	}
	return tt
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels. The default is dropping the alpha channel.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// Channels sets the number of channels of the converted tensor: 1 (gray-scale), 3 (RGB) or 4 (RGBA).
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Channels(n int) *ToTensorConfig {
	if n != 1 && n != 3 && n != 4 {
		exceptions.Panicf("images.ToTensor().Channels(%d): only 1, 3 or 4 channels are supported", n)
	}
	tt.channels = n
	return tt
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes (Float32
// and Float64) and 255 for integer types.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, channels]`.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	return tt.convert([]image.Image{img}, false)
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
// All images must have the same size.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, channels]`.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	return tt.convert(images, true)
}

func (tt *ToTensorConfig) convert(images []image.Image, batch bool) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor: no images given")
	}
	switch tt.dtype {
	case dtypes.Uint8:
		return toTensorGenericsImpl[uint8](tt, images, batch)
	case dtypes.Int32:
		return toTensorGenericsImpl[int32](tt, images, batch)
	case dtypes.Int64:
		return toTensorGenericsImpl[int64](tt, images, batch)
	case dtypes.Float32:
		return toTensorGenericsImpl[float32](tt, images, batch)
	case dtypes.Float64:
		return toTensorGenericsImpl[float64](tt, images, batch)
	default:
		exceptions.Panicf("images.ToTensor does not support dtype %s", tt.dtype)
	}
	return nil
}

func toTensorGenericsImpl[T uint8 | int32 | int64 | float32 | float64](tt *ToTensorConfig, images []image.Image, batch bool) *tensors.Tensor {
	imgSize := images[0].Bounds().Size()
	dims := []int{imgSize.Y, imgSize.X, tt.channels}
	if batch {
		dims = append([]int{len(images)}, dims...)
	}
	t := tensors.FromShape(shapes.Make(tt.dtype, dims...))
	isFloat := tt.dtype.IsFloat()
	convertToDType := func(val uint32) T {
		// color.RGBA() returns 16 bits values packaged in uint32.
		v := float64(val) * tt.maxValue / float64(0xFFFF)
		if !isFloat {
			v = math.Round(v)
		}
		return T(v)
	}

	tensors.MutableFlatData(t, func(tensorData []T) {
		pos := 0
		for imgIdx, img := range images {
			bounds := img.Bounds()
			if !bounds.Size().Eq(imgSize) {
				exceptions.Panicf("image[%d] has size %s, but image[0] has size %s -- they must all be the same",
					imgIdx, bounds.Size(), imgSize)
			}
			for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					pixel := img.At(x, y)
					switch tt.channels {
					case 1:
						gray := color.Gray16Model.Convert(pixel).(color.Gray16)
						tensorData[pos] = convertToDType(uint32(gray.Y))
						pos++
					case 3:
						r, g, b, _ := pixel.RGBA()
						tensorData[pos], tensorData[pos+1], tensorData[pos+2] =
							convertToDType(r), convertToDType(g), convertToDType(b)
						pos += 3
					case 4:
						r, g, b, a := pixel.RGBA()
						tensorData[pos], tensorData[pos+1], tensorData[pos+2], tensorData[pos+3] =
							convertToDType(r), convertToDType(g), convertToDType(b), convertToDType(a)
						pos += 4
					}
				}
			}
		}
		if pos != len(tensorData) {
			exceptions.Panicf("images.ToTensor: incorrect number of values set (%d, wanted %d)", pos, len(tensorData))
		}
	})
	return t
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	maxValue float64
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type.
func ToImage() *ToImageConfig {
	return &ToImageConfig{}
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes (Float32
// and Float64) and 255 for integer types.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, channels]` to an image.
func (ti *ToImageConfig) Single(t *tensors.Tensor) image.Image {
	return ti.toImages(t)[0]
}

// Batch converts the given 4D tensor shaped as `[batch_size, height, width, channels]`
// to a collection of images.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []image.Image {
	return ti.toImages(t)
}

func (ti *ToImageConfig) toImages(imagesTensor *tensors.Tensor) (images []image.Image) {
	var numImages, width, height, channels int
	dims := imagesTensor.Shape().Dimensions
	switch imagesTensor.Rank() {
	case 3:
		numImages, height, width, channels = 1, dims[0], dims[1], dims[2]
	case 4:
		numImages, height, width, channels = dims[0], dims[1], dims[2], dims[3]
	default:
		exceptions.Panicf("invalid tensor shape %s for ToImage conversion", imagesTensor.Shape())
	}
	maxValue := ti.maxValue
	if maxValue == 0 {
		if imagesTensor.DType().IsFloat() {
			maxValue = 1.0
		} else {
			maxValue = 255.0
		}
	}

	flat := toFloat64s(imagesTensor)
	images = make([]image.Image, 0, numImages)
	tensorPos := 0
	for range numImages {
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for h := 0; h < height; h++ {
			for w := 0; w < width; w++ {
				pixelPos := h*img.Stride + w*4
				for d := 0; d < channels; d++ {
					f := math.Round(255 * (flat[tensorPos] / maxValue))
					tensorPos++
					f = math.Max(0, math.Min(f, 255))
					if channels == 1 {
						img.Pix[pixelPos], img.Pix[pixelPos+1], img.Pix[pixelPos+2] = uint8(f), uint8(f), uint8(f)
					} else {
						img.Pix[pixelPos+d] = uint8(f)
					}
				}
				if channels < 4 {
					img.Pix[pixelPos+3] = uint8(255) // Alpha channel.
				}
			}
		}
		images = append(images, img)
	}
	return
}

// toFloat64s returns a copy of the tensor values as float64.
func toFloat64s(t *tensors.Tensor) (values []float64) {
	switch t.DType() {
	case dtypes.Uint8:
		values = convertFlat[uint8](t)
	case dtypes.Int32:
		values = convertFlat[int32](t)
	case dtypes.Int64:
		values = convertFlat[int64](t)
	case dtypes.Float32:
		values = convertFlat[float32](t)
	case dtypes.Float64:
		values = convertFlat[float64](t)
	default:
		exceptions.Panicf("images.ToImage does not support dtype %s", t.DType())
	}
	return
}

func convertFlat[T uint8 | int32 | int64 | float32 | float64](t *tensors.Tensor) []float64 {
	var values []float64
	tensors.ConstFlatData(t, func(flat []T) {
		values = make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v)
		}
	})
	return values
}
