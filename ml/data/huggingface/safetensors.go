package huggingface

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"iter"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// NamedTensor represents a tensor and its name in a ".safetensors" file.
type NamedTensor struct {
	Name   string
	Tensor *tensors.Tensor

	// StoredDType is the dtype name used in the file (e.g.: "F32", "BF16").
	// Half precision values ("F16" and "BF16") are widened to Float32 when read. When writing,
	// a Float32 tensor with StoredDType "F16" or "BF16" is narrowed, otherwise it is ignored.
	StoredDType string
}

const safetensorsMetadataKey = "__metadata__"

// maxHeaderSize bounds the JSON header, to avoid allocating absurd sizes for corrupt files.
const maxHeaderSize = 100 << 20

// storedDTypes maps the safetensors dtype names to the dtype of the tensor returned and the number
// of bytes per element in the file.
var storedDTypes = map[string]struct {
	dtype dtypes.DType
	width int
}{
	"F64":  {dtypes.Float64, 8},
	"F32":  {dtypes.Float32, 4},
	"F16":  {dtypes.Float32, 2},
	"BF16": {dtypes.Float32, 2},
	"I64":  {dtypes.Int64, 8},
	"I32":  {dtypes.Int32, 4},
	"U8":   {dtypes.Uint8, 1},
}

type tensorMetadata struct {
	DTypeName  string   `json:"dtype"`
	Dimensions []int    `json:"shape"`
	Offsets    []uint64 `json:"data_offsets"`

	// Name is filled later, with the key to the tensor.
	Name string `json:"-"`
}

func (t *tensorMetadata) size() int {
	size := 1
	for _, dim := range t.Dimensions {
		size *= dim
	}
	return size
}

// ScanSafetensors returns an iterator over the tensors of a ".safetensors" stream, in the order they are
// stored.
//
// The optional "__metadata__" entry is skipped, see ReadSafetensorsMetadata.
func ScanSafetensors(r io.Reader) iter.Seq2[*NamedTensor, error] {
	return func(yield func(*NamedTensor, error) bool) {
		sortedMetadata, _, err := readHeader(r)
		if err != nil {
			yield(nil, err)
			return
		}

		// Read and yield tensors.
		for _, tData := range sortedMetadata {
			stored := storedDTypes[tData.DTypeName]
			raw := make([]byte, tData.Offsets[1]-tData.Offsets[0])
			if _, err := io.ReadFull(r, raw); err != nil {
				yield(nil, errors.Wrapf(err, "tensor %q: failed to read %d bytes from .safetensors file", tData.Name, len(raw)))
				return
			}
			t := tensors.FromShape(shapes.Make(stored.dtype, tData.Dimensions...))
			decodeTensorData(tData.DTypeName, raw, t)
			if !yield(&NamedTensor{Name: tData.Name, Tensor: t, StoredDType: tData.DTypeName}, nil) {
				// Caller interrupted iterator.
				return
			}
		}
	}
}

// readHeader reads the length prefixed JSON header, validates it and returns the tensors metadata sorted
// by their offsets, and the free-form global metadata.
func readHeader(r io.Reader) ([]*tensorMetadata, map[string]string, error) {
	var headerLenBuf [8]byte
	if _, err := io.ReadFull(r, headerLenBuf[:]); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read metadata length")
	}
	headerLen := binary.LittleEndian.Uint64(headerLenBuf[:])
	if headerLen > maxHeaderSize {
		return nil, nil, errors.Errorf("metadata length %d is larger than the maximum %d, corrupt .safetensors file?",
			headerLen, maxHeaderSize)
	}
	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read metadata")
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerBuf, &header); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse json from metadata")
	}

	var globalMetadata map[string]string
	sortedMetadata := make([]*tensorMetadata, 0, len(header))
	for tName, rawEntry := range header {
		if tName == safetensorsMetadataKey {
			if err := json.Unmarshal(rawEntry, &globalMetadata); err != nil {
				return nil, nil, errors.Wrapf(err, "failed to parse metadata[%q]", safetensorsMetadataKey)
			}
			continue
		}
		tData := &tensorMetadata{Name: tName}
		if err := json.Unmarshal(rawEntry, tData); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to parse metadata[%q]", tName)
		}
		if len(tData.Offsets) != 2 || tData.Offsets[1] < tData.Offsets[0] {
			return nil, nil, errors.Errorf("offset metadata[%q][\"data_offsets\"] invalid, "+
				"expected [start, end] but got %v instead", tData.Name, tData.Offsets)
		}
		stored, found := storedDTypes[tData.DTypeName]
		if !found {
			return nil, nil, errors.Errorf("unsupported dtype %q in metadata[%q][\"dtype\"]", tData.DTypeName, tData.Name)
		}
		for _, dim := range tData.Dimensions {
			if dim < 0 {
				return nil, nil, errors.Errorf("invalid shape %v in metadata[%q][\"shape\"]", tData.Dimensions, tData.Name)
			}
		}
		size := tData.Offsets[1] - tData.Offsets[0]
		if size != uint64(tData.size()*stored.width) {
			return nil, nil, errors.Errorf("tensor %s%v is expected to require %d bytes, but metadata[%q][\"data_offsets\"] "+
				"reserves %d bytes", tData.DTypeName, tData.Dimensions, tData.size()*stored.width, tData.Name, size)
		}
		sortedMetadata = append(sortedMetadata, tData)
	}
	if format := globalMetadata["format"]; format != "" && format != "pt" {
		klog.V(1).Infof("safetensors: reading tensors saved with format %q", format)
	}
	slices.SortFunc(sortedMetadata, func(a, b *tensorMetadata) int {
		if a.Offsets[0] != b.Offsets[0] {
			if a.Offsets[0] < b.Offsets[0] {
				return -1
			}
			return 1
		}
		// Empty tensors may share offsets.
		return strings.Compare(a.Name, b.Name)
	})

	// Makes sure data is contiguous.
	var lastOffset uint64
	for _, tData := range sortedMetadata {
		if tData.Offsets[0] != lastOffset {
			return nil, nil, errors.Errorf("offset for metadata[%q][\"data_offsets\"] not starting at 0 or not contiguous: expected %d, got %d",
				tData.Name, lastOffset, tData.Offsets[0])
		}
		lastOffset = tData.Offsets[1]
	}
	return sortedMetadata, globalMetadata, nil
}

// decodeTensorData converts the little-endian raw data stored with dtypeName to t.
func decodeTensorData(dtypeName string, raw []byte, t *tensors.Tensor) {
	switch dtypeName {
	case "F64":
		tensors.MutableFlatData(t, func(flat []float64) {
			for ii := range flat {
				flat[ii] = math.Float64frombits(binary.LittleEndian.Uint64(raw[ii*8:]))
			}
		})
	case "F32":
		tensors.MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(raw[ii*4:]))
			}
		})
	case "F16":
		tensors.MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = float16.Frombits(binary.LittleEndian.Uint16(raw[ii*2:])).Float32()
			}
		})
	case "BF16":
		tensors.MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = bfloat16.BFloat16(binary.LittleEndian.Uint16(raw[ii*2:])).Float32()
			}
		})
	case "I64":
		tensors.MutableFlatData(t, func(flat []int64) {
			for ii := range flat {
				flat[ii] = int64(binary.LittleEndian.Uint64(raw[ii*8:]))
			}
		})
	case "I32":
		tensors.MutableFlatData(t, func(flat []int32) {
			for ii := range flat {
				flat[ii] = int32(binary.LittleEndian.Uint32(raw[ii*4:]))
			}
		})
	case "U8":
		tensors.MutableFlatData(t, func(flat []uint8) {
			copy(flat, raw)
		})
	}
}

// storedDTypeFor returns the safetensors dtype name used to write the tensor.
func storedDTypeFor(nt *NamedTensor) (string, error) {
	dtype := nt.Tensor.DType()
	if dtype == dtypes.Float32 && (nt.StoredDType == "F16" || nt.StoredDType == "BF16") {
		return nt.StoredDType, nil
	}
	for name, stored := range storedDTypes {
		if stored.dtype == dtype && name != "F16" && name != "BF16" {
			return name, nil
		}
	}
	return "", errors.Errorf("tensor %q: dtype %s not supported in .safetensors files", nt.Name, dtype)
}

// encodeTensorData appends the little-endian representation of t, stored as dtypeName, to buf.
func encodeTensorData(buf []byte, dtypeName string, t *tensors.Tensor) []byte {
	switch dtypeName {
	case "F64":
		tensors.ConstFlatData(t, func(flat []float64) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		})
	case "F32":
		tensors.ConstFlatData(t, func(flat []float32) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
			}
		})
	case "F16":
		tensors.ConstFlatData(t, func(flat []float32) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v).Bits())
			}
		})
	case "BF16":
		tensors.ConstFlatData(t, func(flat []float32) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint16(buf, uint16(bfloat16.FromFloat32(v)))
			}
		})
	case "I64":
		tensors.ConstFlatData(t, func(flat []int64) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
			}
		})
	case "I32":
		tensors.ConstFlatData(t, func(flat []int32) {
			for _, v := range flat {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
			}
		})
	case "U8":
		tensors.ConstFlatData(t, func(flat []uint8) {
			buf = append(buf, flat...)
		})
	}
	return buf
}

// WriteSafetensors writes the tensors to w in the ".safetensors" format, in the order given.
// The optional metadata is stored under "__metadata__".
func WriteSafetensors(w io.Writer, namedTensors []*NamedTensor, metadata map[string]string) error {
	header := make(map[string]any, len(namedTensors)+1)
	if len(metadata) > 0 {
		header[safetensorsMetadataKey] = metadata
	}
	var data []byte
	for _, nt := range namedTensors {
		if _, found := header[nt.Name]; found || nt.Name == "" {
			return errors.Errorf("invalid or duplicate tensor name %q", nt.Name)
		}
		dtypeName, err := storedDTypeFor(nt)
		if err != nil {
			return err
		}
		start := uint64(len(data))
		data = encodeTensorData(data, dtypeName, nt.Tensor)
		dims := nt.Tensor.Shape().Dimensions
		if dims == nil {
			dims = []int{}
		}
		header[nt.Name] = tensorMetadata{
			DTypeName:  dtypeName,
			Dimensions: dims,
			Offsets:    []uint64{start, uint64(len(data))},
		}
	}
	headerBuf, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to encode .safetensors header")
	}
	// The data is aligned to 8 bytes, padding the header with spaces.
	for len(headerBuf)%8 != 0 {
		headerBuf = append(headerBuf, ' ')
	}
	bw := bufio.NewWriter(w)
	_ = binary.Write(bw, binary.LittleEndian, uint64(len(headerBuf)))
	_, _ = bw.Write(headerBuf)
	_, _ = bw.Write(data)
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to write .safetensors data")
	}
	return nil
}

// ReadSafetensorsFile returns an iterator over the tensors stored in the ".safetensors" file in path.
func ReadSafetensorsFile(path string) iter.Seq2[*NamedTensor, error] {
	return func(yield func(*NamedTensor, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open %q", path))
			return
		}
		defer func() { _ = f.Close() }()
		for nt, err := range ScanSafetensors(bufio.NewReader(f)) {
			if err != nil {
				yield(nil, errors.WithMessagef(err, "reading %q", path))
				return
			}
			if !yield(nt, nil) {
				return
			}
		}
	}
}

// ReadSafetensorsMetadata returns the free-form "__metadata__" of the ".safetensors" file in path,
// or nil if it has none.
func ReadSafetensorsMetadata(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	_, metadata, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", path)
	}
	return metadata, nil
}
