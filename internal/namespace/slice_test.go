package namespace

import (
	"testing"

	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/pkg/status"
)

func TestEvaluateSliceTimeNotYetCreated(t *testing.T) {
	u := &URI{Slice: SliceTime, SliceTime: 100}
	a := &anchor.Anchor{CreateClock: 200}
	if got := EvaluateSlice(u, a); got != status.NotFound {
		t.Errorf("expected NotFound, got %v", got)
	}
}

func TestEvaluateSliceTimeParadox(t *testing.T) {
	u := &URI{Slice: SliceTime, SliceTime: 100}
	a := &anchor.Anchor{CreateClock: 10, ModClock: 200}
	if got := EvaluateSlice(u, a); got != status.TimeParadox {
		t.Errorf("expected TimeParadox, got %v", got)
	}
}

func TestEvaluateSliceTimeOk(t *testing.T) {
	u := &URI{Slice: SliceTime, SliceTime: 100}
	a := &anchor.Anchor{CreateClock: 10, ModClock: 20}
	if got := EvaluateSlice(u, a); got != status.Ok {
		t.Errorf("expected Ok, got %v", got)
	}
}

func TestEvaluateSliceGenMatch(t *testing.T) {
	u := &URI{Slice: SliceGen, SliceGen: 5}
	a := &anchor.Anchor{WriteGen: 5}
	if got := EvaluateSlice(u, a); got != status.Ok {
		t.Errorf("expected Ok, got %v", got)
	}
}

func TestEvaluateSliceGenMismatch(t *testing.T) {
	u := &URI{Slice: SliceGen, SliceGen: 5}
	a := &anchor.Anchor{WriteGen: 6}
	if got := EvaluateSlice(u, a); got != status.TimeParadox {
		t.Errorf("expected TimeParadox, got %v", got)
	}
}
