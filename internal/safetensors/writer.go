package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Encode serializes tensors (F32 or I64) plus optional string metadata.
// Tensors are laid out in name order.
func Encode(tensors []Tensor, metadata map[string]string) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var raw []byte

	for _, tensor := range sorted {
		name := strings.TrimSpace(tensor.Name)
		if name == "" || name == metadataKey {
			return nil, fmt.Errorf("safetensors: invalid tensor name %q", tensor.Name)
		}

		if _, exists := header[name]; exists {
			return nil, fmt.Errorf("safetensors: duplicate tensor name %q", name)
		}

		elemCount, err := shapeElementCount(tensor.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		dtype := strings.ToUpper(tensor.DType)
		if dtype == "" {
			dtype = DTypeF32
		}

		start := len(raw)

		switch dtype {
		case DTypeF32:
			if int64(len(tensor.Data)) != elemCount {
				return nil, fmt.Errorf("safetensors: tensor %q shape %v expects %d elements, got %d",
					name, tensor.Shape, elemCount, len(tensor.Data))
			}

			raw = append(raw, make([]byte, len(tensor.Data)*4)...)
			for i, v := range tensor.Data {
				binary.LittleEndian.PutUint32(raw[start+i*4:], math.Float32bits(v))
			}
		case DTypeI64:
			if int64(len(tensor.Ints)) != elemCount {
				return nil, fmt.Errorf("safetensors: tensor %q shape %v expects %d elements, got %d",
					name, tensor.Shape, elemCount, len(tensor.Ints))
			}

			raw = append(raw, make([]byte, len(tensor.Ints)*8)...)
			for i, v := range tensor.Ints {
				binary.LittleEndian.PutUint64(raw[start+i*8:], uint64(v))
			}
		default:
			return nil, fmt.Errorf("safetensors: tensor %q: cannot encode dtype %q", name, dtype)
		}

		header[name] = storeHeaderEntry{
			DType:   dtype,
			Shape:   append([]int64{}, tensor.Shape...),
			Offsets: [2]int{start, len(raw)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 8, 8+len(headerJSON)+len(raw))
	binary.LittleEndian.PutUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)
	out = append(out, raw...)

	return out, nil
}
