package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type decodeState int

const (
	statePrimed decodeState = iota
	stateStepping
	stateStopped
)

// StepStats describes the decoder state right after one iteration.
type StepStats struct {
	Step       int
	Tokens     []int64 // token chosen for each batch row
	CacheLen   int64
	MaskLen    int
	Consumed   int // conditioning + prompt + generated tokens fed so far
	HistoryLen int
}

// StepObserver is called once per iteration. It must not retain Tokens.
type StepObserver func(StepStats)

// GenerateConfig holds parameters for the autoregressive decoding loop.
type GenerateConfig struct {
	MaxNewTokens      int
	RepetitionPenalty float64
	Exaggeration      float32
	OnStep            StepObserver
}

// Result is the outcome of a decoding run.
type Result struct {
	// SpeechTokens holds, per batch row, the voice prompt tokens followed by
	// the generated tokens with START and STOP removed.
	SpeechTokens [][]int64
	// History is the raw per-row token history including START and STOP.
	History [][]int64
	Steps   int
	// Truncated is set when MaxNewTokens was reached without every row
	// emitting STOP.
	Truncated bool
}

// GenerateSpeechTokens runs greedy decoding over the prompt until every batch
// row emits STOP or MaxNewTokens iterations have run.
//
// The loop does not observe ctx cancellation; graph calls receive a context
// detached from it. Any graph failure aborts the run with ErrInference and no
// partial result.
func (e *Engine) GenerateSpeechTokens(ctx context.Context, profile VoiceProfile, inputIDs [][]int64, cfg GenerateConfig) (*Result, error) {
	if len(inputIDs) == 0 || len(inputIDs[0]) == 0 {
		return nil, errors.New("generate: input ids must not be empty")
	}
	if cfg.MaxNewTokens < 1 {
		return nil, fmt.Errorf("generate: max new tokens must be >= 1 (got %d)", cfg.MaxNewTokens)
	}
	penalty, err := NewRepetitionPenalty(cfg.RepetitionPenalty)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	batch := len(inputIDs)
	start, stop := e.dims.StartSpeechToken, e.dims.StopSpeechToken

	embeds, err := e.AssembleInputs(ctx, profile, inputIDs, cfg.Exaggeration)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	consumed := int(embeds.Dim(1))
	mask := make([][]int64, batch)
	for b := range mask {
		mask[b] = ones(consumed)
	}

	cache, err := NewEmptyKVCache(batch, e.dims)
	if err != nil {
		return nil, err
	}

	history := make([][]int64, batch)
	for b := range history {
		history[b] = []int64{start}
	}

	state := statePrimed
	steps := 0
	for i := 0; i < cfg.MaxNewTokens; i++ {
		state = stateStepping

		logits, next, err := e.LanguageModelStep(ctx, embeds, mask, cache)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInference, i, err)
		}
		cache = next
		if cache.SeqLen() != int64(consumed) {
			return nil, fmt.Errorf("%w: step %d: cache holds %d positions, %d consumed", ErrInference, i, cache.SeqLen(), consumed)
		}

		rows, err := LastStepRows(logits)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInference, i, err)
		}
		rows = penalty.Apply(history, rows)

		tokens := make([]int64, batch)
		allStop := true
		for b, row := range rows {
			tokens[b] = argmax(row)
			history[b] = append(history[b], tokens[b])
			if tokens[b] != stop {
				allStop = false
			}
		}
		steps++

		if cfg.OnStep != nil {
			cfg.OnStep(StepStats{
				Step:       i,
				Tokens:     tokens,
				CacheLen:   cache.SeqLen(),
				MaskLen:    len(mask[0]),
				Consumed:   consumed,
				HistoryLen: len(history[0]),
			})
		}

		if allStop {
			state = stateStopped
			break
		}

		column := make([][]int64, batch)
		for b, tok := range tokens {
			column[b] = []int64{tok}
		}
		embeds, err = e.EmbedTokens(ctx, column, StepPositionIDs(batch, i), cfg.Exaggeration)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInference, i, err)
		}
		for b := range mask {
			mask[b] = append(mask[b], 1)
		}
		consumed++
	}

	truncated := state != stateStopped
	if truncated {
		slog.Warn("speech token generation hit max_new_tokens", "max_new_tokens", cfg.MaxNewTokens)
	}
	slog.Debug("speech token generation complete", "steps", steps, "truncated", truncated)

	return &Result{
		SpeechTokens: finalizeSpeechTokens(history, profile.PromptTokens, start, stop),
		History:      history,
		Steps:        steps,
		Truncated:    truncated,
	}, nil
}

// finalizeSpeechTokens drops the leading START token, cuts each row at its
// first STOP token and prepends the voice prompt tokens.
func finalizeSpeechTokens(history [][]int64, prompt []int64, start, stop int64) [][]int64 {
	out := make([][]int64, len(history))
	for b, row := range history {
		if len(row) > 0 && row[0] == start {
			row = row[1:]
		}
		for i, tok := range row {
			if tok == stop {
				row = row[:i]
				break
			}
		}

		seq := make([]int64, 0, len(prompt)+len(row))
		seq = append(seq, prompt...)
		seq = append(seq, row...)
		out[b] = seq
	}

	return out
}

func ones(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}

	return out
}
