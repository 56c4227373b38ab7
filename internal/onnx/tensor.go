package onnx

import (
	"fmt"
	"math"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a dense row-major tensor handed to and returned from graph runs.
// Dimensions may be zero; an empty KV cache has a zero-length sequence axis.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	dtype, err := dtypeFromSlice(data)
	if err != nil {
		return nil, err
	}
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
	}
	switch dtype {
	case DTypeFloat32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case DTypeInt64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
	return t, nil
}

// NewInt64Matrix builds a [len(rows), len(rows[0])] int64 tensor. All rows
// must share the same length.
func NewInt64Matrix(rows [][]int64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("matrix has no rows")
	}
	width := len(rows[0])
	flat := make([]int64, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}
	return NewTensor(flat, []int64{int64(len(rows)), int64(width)})
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

func (t *Tensor) Data() any {
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

// Len returns the element count.
func (t *Tensor) Len() int {
	switch v := t.data.(type) {
	case []float32:
		return len(v)
	case []int64:
		return len(v)
	default:
		return 0
	}
}

// Dim returns the size of axis i, or -1 when the tensor has fewer axes.
func (t *Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.shape) {
		return -1
	}
	return t.shape[i]
}

func ExtractFloat32(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("expected float32 tensor, got nil")
	}
	if t.dtype != DTypeFloat32 {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("float32 tensor has unexpected backing type %T", t.data)
	}
	return append([]float32(nil), data...), nil
}

func ExtractInt64(t *Tensor) ([]int64, error) {
	if t == nil {
		return nil, fmt.Errorf("expected int64 tensor, got nil")
	}
	if t.dtype != DTypeInt64 {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("int64 tensor has unexpected backing type %T", t.data)
	}
	return append([]int64(nil), data...), nil
}

func dtypeFromSlice[T ~int64 | ~float32](data []T) (TensorDType, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		return DTypeInt64, nil
	case float32:
		return DTypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported tensor data type %T", zero)
	}
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("shape[%d]=%d is negative", i, dim)
		}
		if dim > 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}

// ConcatSequence concatenates two 3D float32 tensors along the sequence axis.
// Both tensors must have shape [B, T_x, D] with matching B and D.
func ConcatSequence(a, b *Tensor) (*Tensor, error) {
	aShape := a.Shape()
	bShape := b.Shape()
	if len(aShape) != 3 || len(bShape) != 3 {
		return nil, fmt.Errorf("concat: both tensors must be 3D, got %dD and %dD", len(aShape), len(bShape))
	}
	if aShape[0] != bShape[0] {
		return nil, fmt.Errorf("concat: batch dim mismatch: %d vs %d", aShape[0], bShape[0])
	}
	if aShape[2] != bShape[2] {
		return nil, fmt.Errorf("concat: last dim mismatch: %d vs %d", aShape[2], bShape[2])
	}

	aData, err := ExtractFloat32(a)
	if err != nil {
		return nil, fmt.Errorf("concat: extract a: %w", err)
	}
	bData, err := ExtractFloat32(b)
	if err != nil {
		return nil, fmt.Errorf("concat: extract b: %w", err)
	}

	batch := int(aShape[0])
	aRow := int(aShape[1] * aShape[2])
	bRow := int(bShape[1] * bShape[2])
	combined := make([]float32, 0, len(aData)+len(bData))
	for i := range batch {
		combined = append(combined, aData[i*aRow:(i+1)*aRow]...)
		combined = append(combined, bData[i*bRow:(i+1)*bRow]...)
	}

	return NewTensor(combined, []int64{aShape[0], aShape[1] + bShape[1], aShape[2]})
}

// BroadcastBatch repeats a batch-1 tensor along axis 0 to the requested size.
func BroadcastBatch(t *Tensor, batch int) (*Tensor, error) {
	shape := t.Shape()
	if len(shape) == 0 || shape[0] != 1 {
		return nil, fmt.Errorf("broadcast: want leading dim 1, got shape %v", shape)
	}
	if batch == 1 {
		return t, nil
	}
	shape[0] = int64(batch)

	switch t.dtype {
	case DTypeFloat32:
		src, _ := ExtractFloat32(t)
		out := make([]float32, 0, len(src)*batch)
		for range batch {
			out = append(out, src...)
		}
		return NewTensor(out, shape)
	case DTypeInt64:
		src, _ := ExtractInt64(t)
		out := make([]int64, 0, len(src)*batch)
		for range batch {
			out = append(out, src...)
		}
		return NewTensor(out, shape)
	default:
		return nil, fmt.Errorf("broadcast: unsupported dtype %s", t.dtype)
	}
}

// LastStepRows takes [B, T, V] logits and returns the B rows of the final
// time step.
func LastStepRows(logits *Tensor) ([][]float32, error) {
	shape := logits.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("logits must be 3D [B, T, V], got shape %v", shape)
	}
	if shape[1] < 1 {
		return nil, fmt.Errorf("logits have empty time axis: %v", shape)
	}
	data, err := ExtractFloat32(logits)
	if err != nil {
		return nil, err
	}

	b, tLen, v := int(shape[0]), int(shape[1]), int(shape[2])
	rows := make([][]float32, b)
	for i := range b {
		start := (i*tLen + tLen - 1) * v
		rows[i] = append([]float32(nil), data[start:start+v]...)
	}
	return rows, nil
}
