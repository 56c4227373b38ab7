package onnx

import (
	"reflect"
	"testing"
)

func TestPromptPositionIDs(t *testing.T) {
	ids := [][]int64{{255, 10, 6561, 11, 6562}}
	got := PromptPositionIDs(ids, 6561)

	want := [][]int64{{-1, 0, 0, 2, 0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PromptPositionIDs = %v; want %v", got, want)
	}
}

func TestPromptPositionIDs_FirstTextTokenIsMinusOne(t *testing.T) {
	got := PromptPositionIDs([][]int64{{7, 8, 9}, {1, 2, 3}}, 6561)

	for b, row := range got {
		if row[0] != -1 || row[1] != 0 || row[2] != 1 {
			t.Errorf("row %d = %v; want [-1 0 1]", b, row)
		}
	}
}

func TestStepPositionIDs(t *testing.T) {
	got := StepPositionIDs(2, 4)
	want := [][]int64{{5}, {5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("StepPositionIDs = %v; want %v", got, want)
	}
}
