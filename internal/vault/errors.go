package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrOutsideVault is returned for paths that would resolve outside the vault root.
	ErrOutsideVault = errors.New("path escapes the vault")

	// ErrNotAFolder is returned when the vault root is not a directory.
	ErrNotAFolder = errors.New("not a folder")
)

// IOError reports a failed vault operation.
type IOError struct {
	// Op is the vault operation that failed (e.g. "create file", "list").
	Op string

	// Path is the vault path the operation was applied to.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("vault: %s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates an IOError, leaving errors that already are IOErrors untouched.
func NewIOError(op, path string, err error) error {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
