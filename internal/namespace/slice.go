package namespace

import (
	"github.com/hn4dev/hn4/internal/anchor"
	"github.com/hn4dev/hn4/pkg/status"
)

// EvaluateSlice applies the URI's optional #time:/#gen: selector against a
// resolved anchor, per §4.6. It never mutates the anchor. status.Ok means
// the anchor should be returned unchanged; any other status is the caller's
// final result.
func EvaluateSlice(u *URI, a *anchor.Anchor) status.Status {
	switch u.Slice {
	case SliceNone:
		return status.Ok

	case SliceTime:
		if a.CreateClock > u.SliceTime {
			return status.NotFound
		}
		if a.ModClock > u.SliceTime {
			return status.TimeParadox
		}
		return status.Ok

	case SliceGen:
		if uint32(u.SliceGen) == a.WriteGen {
			return status.Ok
		}
		return status.TimeParadox

	default:
		return status.Ok
	}
}
