package service

import "fmt"

// Reason says why a lookup produced no value.
type Reason string

// Outcome reasons.
const (
	ReasonNone        Reason = ""
	ReasonNoMatch     Reason = "no_match"
	ReasonUnavailable Reason = "unavailable"
	ReasonFailed      Reason = "failed"
)

// Outcome is the result of a lookup that may legitimately produce nothing.
// A miss carries a Reason and, for failures, the underlying error.
type Outcome[T any] struct {
	Err    error
	Value  T
	Reason Reason
}

// Found wraps a successful lookup.
func Found[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Missed builds an empty outcome with a reason.
func Missed[T any](reason Reason, err error) Outcome[T] {
	return Outcome[T]{Reason: reason, Err: err}
}

// Ok reports whether the outcome carries a value.
func (o Outcome[T]) Ok() bool {
	return o.Reason == ReasonNone
}

func (o Outcome[T]) String() string {
	if o.Ok() {
		return "found"
	}
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Reason, o.Err)
	}
	return string(o.Reason)
}
