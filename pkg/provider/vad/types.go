package vad

import "fmt"

// Unset marks an interval bound that has not been reported.
const Unset = -1

// Interval is one voice-activity edge pair on the session timeline. Either
// bound may be [Unset] when the classifier reports a start or an end on its
// own, which happens when an interval straddles Classify calls.
type Interval struct {
	Start int
	End   int
}

// HasStart reports whether the start edge is present.
func (iv Interval) HasStart() bool { return iv.Start != Unset }

// HasEnd reports whether the end edge is present.
func (iv Interval) HasEnd() bool { return iv.End != Unset }

// String returns the interval as "[start, end)" with "?" for unset bounds.
func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", bound(iv.Start), bound(iv.End))
}

func bound(v int) string {
	if v == Unset {
		return "?"
	}
	return fmt.Sprint(v)
}

// StartAt returns an interval with only a start edge.
func StartAt(offset int) Interval { return Interval{Start: offset, End: Unset} }

// EndAt returns an interval with only an end edge.
func EndAt(offset int) Interval { return Interval{Start: Unset, End: offset} }

// Span returns an interval with both edges.
func Span(start, end int) Interval { return Interval{Start: start, End: end} }

// Activity is the classifier reply for one chunk: either [NoActivity] or
// [Edges]. Switch on the concrete type.
type Activity interface {
	activity()
}

// NoActivity means the chunk completed no edges.
type NoActivity struct{}

// Edges holds the ordered intervals completed by the chunk. It always has at
// least one element when returned by [Reply].
type Edges []Interval

func (NoActivity) activity() {}
func (Edges) activity()      {}

// Reply returns NoActivity for an empty interval list and Edges otherwise.
func Reply(intervals ...Interval) Activity {
	if len(intervals) == 0 {
		return NoActivity{}
	}
	return Edges(intervals)
}
