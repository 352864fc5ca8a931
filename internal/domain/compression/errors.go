package compression

import (
	"errors"
	"fmt"
)

// Error taxonomy
var (
	ErrToolNotFound       = errors.New("ghostscript not found")
	ErrInvocationTimeout  = errors.New("ghostscript timed out")
	ErrInvocationFailed   = errors.New("ghostscript failed")
	ErrUnreadableInput    = errors.New("unreadable input")
	ErrBudgetUnattainable = errors.New("page cannot be brought under budget")
	ErrNoValidInputs      = errors.New("no document could be processed")
	ErrCancelled          = errors.New("run cancelled")
	ErrInvalidQuality     = errors.New("invalid compression quality")
	ErrInvalidBudget      = errors.New("invalid size budget")
)

// InvocationError carries the engine diagnostic for a failed batch.
type InvocationError struct {
	Kind       error
	Inputs     []string
	Diagnostic string
	Err        error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%v (%d input(s))", e.Kind, len(e.Inputs))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *InvocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DocumentError ties a failure to one input document.
type DocumentError struct {
	Path string
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// NewDocumentError creates a new document error
func NewDocumentError(path string, err error) *DocumentError {
	return &DocumentError{Path: path, Err: err}
}
