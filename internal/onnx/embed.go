package onnx

import (
	"context"
	"errors"
	"fmt"
)

// EmbedTokens runs the embed_tokens graph for a [B, T] block of token ids and
// their position ids. exaggeration is fed as a one-element tensor.
func (e *Engine) EmbedTokens(ctx context.Context, inputIDs, positionIDs [][]int64, exaggeration float32) (*Tensor, error) {
	if len(inputIDs) == 0 || len(inputIDs[0]) == 0 {
		return nil, errors.New("embed_tokens: empty input ids")
	}

	runner, err := e.runner(GraphEmbedTokens)
	if err != nil {
		return nil, err
	}

	ids, err := NewInt64Matrix(inputIDs)
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: input_ids: %w", err)
	}
	pos, err := NewInt64Matrix(positionIDs)
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: position_ids: %w", err)
	}
	if ids.Dim(0) != pos.Dim(0) || ids.Dim(1) != pos.Dim(1) {
		return nil, fmt.Errorf("embed_tokens: input_ids %v and position_ids %v differ in shape", ids.Shape(), pos.Shape())
	}
	exag, err := NewTensor([]float32{exaggeration}, []int64{1})
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: exaggeration: %w", err)
	}

	outputs, err := runner.Run(ctx, map[string]*Tensor{
		"input_ids":    ids,
		"position_ids": pos,
		"exaggeration": exag,
	})
	if err != nil {
		return nil, fmt.Errorf("embed_tokens: run: %w", err)
	}

	embeds, err := pickOutput(GraphEmbedTokens, outputs, "inputs_embeds")
	if err != nil {
		return nil, err
	}
	if embeds.Dim(0) != ids.Dim(0) || embeds.Dim(1) != ids.Dim(1) || len(embeds.Shape()) != 3 {
		return nil, fmt.Errorf("embed_tokens: output shape %v does not match input %v", embeds.Shape(), ids.Shape())
	}

	return embeds, nil
}
