package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImage means the file is not a PE image at all
	ErrNotImage = errors.New("not a PE image")

	// ErrNoMetadata means the file is a PE image without a CLI header
	ErrNoMetadata = errors.New("image has no CLI metadata")

	// ErrNoManifest means the metadata has no Assembly row (a bare module)
	ErrNoManifest = errors.New("image has no assembly manifest")
)

// FormatError reports metadata that claims to be present but cannot be read
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("metadata: %s: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErr(op string, format string, args ...interface{}) error {
	return &FormatError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsNotCandidate reports whether err only says the file is not a managed image
func IsNotCandidate(err error) bool {
	return errors.Is(err, ErrNotImage) || errors.Is(err, ErrNoMetadata)
}
