package onnx

import (
	"fmt"

	"github.com/example/go-chatterbox/internal/config"
)

func pastKeyName(layer int) string   { return fmt.Sprintf("past_key_values.%d.key", layer) }
func pastValueName(layer int) string { return fmt.Sprintf("past_key_values.%d.value", layer) }
func presentKeyName(layer int) string {
	return fmt.Sprintf("present.%d.key", layer)
}
func presentValueName(layer int) string {
	return fmt.Sprintf("present.%d.value", layer)
}

// KVCache holds one key and one value tensor of shape
// [batch, kv_heads, cached_len, head_dim] per decoder layer. It is request
// scoped and replaced wholesale after every language model call.
type KVCache struct {
	keys   []*Tensor
	values []*Tensor
}

// NewEmptyKVCache returns a cache with a zero-length sequence axis for every
// layer.
func NewEmptyKVCache(batch int, dims config.ModelConfig) (*KVCache, error) {
	shape := []int64{int64(batch), int64(dims.NumKVHeads), 0, int64(dims.HeadDim)}
	c := &KVCache{
		keys:   make([]*Tensor, dims.NumLayers),
		values: make([]*Tensor, dims.NumLayers),
	}
	for l := range dims.NumLayers {
		k, err := NewTensor([]float32{}, shape)
		if err != nil {
			return nil, fmt.Errorf("empty kv cache: %w", err)
		}
		v, err := NewTensor([]float32{}, shape)
		if err != nil {
			return nil, fmt.Errorf("empty kv cache: %w", err)
		}
		c.keys[l], c.values[l] = k, v
	}

	return c, nil
}

// Layers returns the number of cached layers.
func (c *KVCache) Layers() int {
	return len(c.keys)
}

// SeqLen returns the cached sequence length.
func (c *KVCache) SeqLen() int64 {
	if len(c.keys) == 0 {
		return 0
	}

	return c.keys[0].Dim(2)
}

// bind adds the cache tensors to a language model input map.
func (c *KVCache) bind(inputs map[string]*Tensor) {
	for l := range c.keys {
		inputs[pastKeyName(l)] = c.keys[l]
		inputs[pastValueName(l)] = c.values[l]
	}
}

// presentFrom builds the successor cache from the language model outputs.
// Every layer must be present and all layers must agree on the cached length.
func presentFrom(outputs map[string]*Tensor, layers int) (*KVCache, error) {
	c := &KVCache{
		keys:   make([]*Tensor, layers),
		values: make([]*Tensor, layers),
	}

	var seqLen int64 = -1
	for l := range layers {
		k, ok := outputs[presentKeyName(l)]
		if !ok {
			return nil, fmt.Errorf("language_model: missing output %q", presentKeyName(l))
		}
		v, ok := outputs[presentValueName(l)]
		if !ok {
			return nil, fmt.Errorf("language_model: missing output %q", presentValueName(l))
		}
		if k.Dim(2) < 0 || k.Dim(2) != v.Dim(2) {
			return nil, fmt.Errorf("language_model: layer %d key/value shapes disagree: %v vs %v", l, k.Shape(), v.Shape())
		}
		if seqLen >= 0 && k.Dim(2) != seqLen {
			return nil, fmt.Errorf("language_model: layer %d cached length %d, want %d", l, k.Dim(2), seqLen)
		}
		seqLen = k.Dim(2)
		c.keys[l], c.values[l] = k, v
	}

	return c, nil
}
