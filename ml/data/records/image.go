// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/tensors"
	"github.com/recordml/recordml/types/tensors/images"
)

// ImageOption configures a Bytes feature holding an encoded image (JPEG, PNG, GIF, BMP, TIFF or WebP)
// to be decoded into a tensor shaped [height, width, channels] when read.
//
// Channels is 1 for gray-scale images and 3 otherwise (alpha is dropped).
type ImageOption struct {
	// FeatureName of the Bytes feature with the encoded image. Options with an empty name are ignored.
	FeatureName string

	// ResizeHeight and ResizeWidth: if both are > 0 the image is resized to exactly this size,
	// otherwise the image keeps its native size.
	ResizeHeight, ResizeWidth int

	// DType of the tensor. Defaults to dtypes.Uint8, with values from 0 to 255.
	// Float dtypes get values from 0 to 1.
	DType dtypes.DType
}

// Resizes returns whether the option resizes the images.
func (o ImageOption) Resizes() bool {
	return o.ResizeHeight > 0 && o.ResizeWidth > 0
}

func (o ImageOption) dtype() dtypes.DType {
	if o.DType == dtypes.InvalidDType {
		return dtypes.Uint8
	}
	return o.DType
}

func validImageDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.InvalidDType, dtypes.Uint8, dtypes.Int32, dtypes.Int64, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

// decode the image in data and convert it to a tensor.
func (o ImageOption) decode(data []byte) (*tensors.Tensor, error) {
	img, _, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptRecord, "image feature %q: %v", o.FeatureName, err)
	}
	channels := images.ChannelsFor(img)
	if o.Resizes() {
		img = images.Resize(img, o.ResizeHeight, o.ResizeWidth)
	}
	return images.ToTensor(o.dtype()).Channels(channels).Single(img), nil
}
