package onnx

import (
	"context"
	"fmt"
)

// LanguageModelStep runs one forward pass of the language model over the new
// embeddings, the full attention mask and the cache of all earlier positions.
// It returns the logits and the successor cache.
func (e *Engine) LanguageModelStep(ctx context.Context, embeds *Tensor, mask [][]int64, cache *KVCache) (*Tensor, *KVCache, error) {
	runner, err := e.runner(GraphLanguageModel)
	if err != nil {
		return nil, nil, err
	}

	maskTensor, err := NewInt64Matrix(mask)
	if err != nil {
		return nil, nil, fmt.Errorf("language_model: attention_mask: %w", err)
	}

	inputs := make(map[string]*Tensor, 2+2*cache.Layers())
	inputs["inputs_embeds"] = embeds
	inputs["attention_mask"] = maskTensor
	cache.bind(inputs)

	outputs, err := runner.Run(ctx, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("language_model: run: %w", err)
	}

	logits, ok := outputs["logits"]
	if !ok {
		return nil, nil, fmt.Errorf("language_model: missing output %q", "logits")
	}
	if logits.Dim(0) != embeds.Dim(0) {
		return nil, nil, fmt.Errorf("language_model: logits batch %d, want %d", logits.Dim(0), embeds.Dim(0))
	}

	present, err := presentFrom(outputs, cache.Layers())
	if err != nil {
		return nil, nil, err
	}

	return logits, present, nil
}
