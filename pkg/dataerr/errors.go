// Package dataerr defines the error kinds surfaced by the dataset readers,
// the sample generator and the preprocessing steps.
//
// Every kind is a struct carrying the offending path (and detail where
// useful) plus the underlying cause, reachable through errors.Unwrap. Each
// kind also matches its sentinel through errors.Is, so callers can branch on
// the kind without a type assertion:
//
//	if errors.Is(err, dataerr.ErrConsistency) { ... }
package dataerr

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput is matched by every *MissingInputError.
	ErrMissingInput = errors.New("missing input")

	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("parse error")

	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("decode error")

	// ErrConsistency is matched by every *ConsistencyError.
	ErrConsistency = errors.New("consistency error")
)

// MissingInputError reports an input that was required but not supplied or
// not readable: no manifest given, a manifest that cannot be opened, a listed
// file that does not exist.
type MissingInputError struct {
	Path   string
	Detail string
	cause  error
}

// NewMissingInput builds a MissingInputError. cause may be nil.
func NewMissingInput(path, detail string, cause error) *MissingInputError {
	return &MissingInputError{Path: path, Detail: detail, cause: cause}
}

func (e *MissingInputError) Error() string {
	return format("missing input", e.Path, e.Detail, e.cause)
}

func (e *MissingInputError) Unwrap() error { return e.cause }

func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }

// ParseError reports a structured document (landmark JSON, config) that is
// missing, malformed or lacks the expected structure.
type ParseError struct {
	Path   string
	Detail string
	cause  error
}

// NewParse builds a ParseError. cause may be nil.
func NewParse(path, detail string, cause error) *ParseError {
	return &ParseError{Path: path, Detail: detail, cause: cause}
}

func (e *ParseError) Error() string {
	return format("parse", e.Path, e.Detail, e.cause)
}

func (e *ParseError) Unwrap() error { return e.cause }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DecodeError reports a volume (NIfTI file, DICOM series) that cannot be
// opened or has an unsupported structure.
type DecodeError struct {
	Path   string
	Detail string
	cause  error
}

// NewDecode builds a DecodeError. cause may be nil.
func NewDecode(path, detail string, cause error) *DecodeError {
	return &DecodeError{Path: path, Detail: detail, cause: cause}
}

func (e *DecodeError) Error() string {
	return format("decode", e.Path, e.Detail, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ConsistencyError reports inputs that are individually valid but disagree
// with each other, such as manifests of different lengths.
type ConsistencyError struct {
	Detail string
	cause  error
}

// NewConsistency builds a ConsistencyError from a format string.
func NewConsistency(format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause and returns e.
func (e *ConsistencyError) Wrap(cause error) *ConsistencyError {
	e.cause = cause
	return e
}

func (e *ConsistencyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("consistency: %s: %v", e.Detail, e.cause)
	}
	return "consistency: " + e.Detail
}

func (e *ConsistencyError) Unwrap() error { return e.cause }

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

func format(kind, path, detail string, cause error) string {
	msg := kind
	if path != "" {
		msg += " " + path
	}
	if detail != "" {
		msg += ": " + detail
	}
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return msg
}
