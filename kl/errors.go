package kl

import "fmt"

// ArgumentError is returned for malformed arguments, e.g. a given list that is
// not a pair or tensors of the wrong shape
type ArgumentError struct {
	Arg    string // Argument name
	Reason string // What is wrong with it, including the offending value
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

// UnsupportedError is returned when no closed form is registered for a pair of
// distribution names, or a registered formula cannot use the descriptors
type UnsupportedError struct {
	From   string // q1 distribution name
	To     string // q2 distribution name
	Reason string // optional detail
}

func (e *UnsupportedError) Error() string {
	msg := fmt.Sprintf("no closed-form KL divergence for %s and %s", e.From, e.To)
	if len(e.Reason) > 0 {
		msg += ": " + e.Reason
	}
	return msg
}

// DomainError is returned when a numeric input lies outside the domain of a
// formula, e.g. a variance that is not strictly positive
type DomainError struct {
	Arg   string  // Argument name
	Index int     // Flat index of the first offending element
	Value float64 // Offending value
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s[%d] = %v is outside the valid domain", e.Arg, e.Index, e.Value)
}
