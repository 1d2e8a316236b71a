package scanner

import (
	"github.com/flatbed/pescan/pkg/identity"
	"github.com/flatbed/pescan/pkg/observability"
)

// Kind classifies a scan result
type Kind int

const (
	// NotCandidate means the file is irrelevant: not a managed image, no
	// reference to the marker component, or no qualifying types
	NotCandidate Kind = iota
	// Success carries the identity and the qualifying type names
	Success
	// Failure carries a diagnostic for a file whose metadata could not be read
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return observability.OutcomeSuccess
	case Failure:
		return observability.OutcomeFailure
	default:
		return observability.OutcomeNotCandidate
	}
}

// Result is the outcome of scanning one file. A Success always has at least
// one type; a Failure always has a diagnostic.
type Result struct {
	Kind Kind
	Path string

	// Identity and Types are set for Success. Types are full names in
	// declaration order.
	Identity identity.Identity
	Types    []string

	// Diagnostic is set for Failure
	Diagnostic string
}

func notCandidate(path string) Result {
	return Result{Kind: NotCandidate, Path: path}
}
