package onnx

// PromptPositionIDs derives position ids for the prompt: ids at or above the
// speech vocabulary start get position 0, every other token gets its index
// minus one. The first text token therefore receives -1; the exported graph
// expects exactly this layout.
func PromptPositionIDs(inputIDs [][]int64, speechStart int64) [][]int64 {
	out := make([][]int64, len(inputIDs))
	for b, row := range inputIDs {
		pos := make([]int64, len(row))
		for i, id := range row {
			if id >= speechStart {
				pos[i] = 0
			} else {
				pos[i] = int64(i) - 1
			}
		}
		out[b] = pos
	}

	return out
}

// StepPositionIDs returns the [batch, 1] position ids used when embedding the
// token produced at iteration step.
func StepPositionIDs(batch, step int) [][]int64 {
	out := make([][]int64, batch)
	for b := range out {
		out[b] = []int64{int64(step) + 1}
	}

	return out
}
