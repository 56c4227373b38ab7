package onnx

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidPenalty = errors.New("repetition penalty must be > 0")

// RepetitionPenalty discourages re-emitting tokens already in the history.
// For each history id the score is multiplied by the penalty when negative
// and divided by it otherwise, so a penalty above 1 always lowers the score.
type RepetitionPenalty struct {
	penalty float32
}

func NewRepetitionPenalty(penalty float64) (*RepetitionPenalty, error) {
	if penalty <= 0 || math.IsNaN(penalty) || math.IsInf(penalty, 0) {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidPenalty, penalty)
	}

	return &RepetitionPenalty{penalty: float32(penalty)}, nil
}

// Apply returns a penalised copy of scores. history and scores are indexed by
// batch row. Each distinct id is penalised once; ids outside the vocabulary
// are ignored. The inputs are not modified.
func (p *RepetitionPenalty) Apply(history [][]int64, scores [][]float32) [][]float32 {
	out := make([][]float32, len(scores))
	for b, row := range scores {
		processed := append([]float32(nil), row...)
		if b < len(history) {
			seen := make(map[int64]struct{}, len(history[b]))
			for _, id := range history[b] {
				if id < 0 || id >= int64(len(row)) {
					continue
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}

				s := row[id]
				if s < 0 {
					processed[id] = s * p.penalty
				} else {
					processed[id] = s / p.penalty
				}
			}
		}
		out[b] = processed
	}

	return out
}

// argmax returns the index of the largest score; ties resolve to the lowest
// index.
func argmax(row []float32) int64 {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}

	return int64(best)
}
