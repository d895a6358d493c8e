package errors

import (
	stderr "errors"
	"fmt"
	"strings"
)

// Cryptographic errors are never recoverable.
var (
	// ErrIntegrity indicates the authentication tag did not verify.
	ErrIntegrity = stderr.New("integrity check failed")

	// ErrMalformedPayload indicates decrypted bytes are not a valid config map.
	ErrMalformedPayload = stderr.New("malformed payload")
)

// Reference errors.
var (
	// ErrNotFound indicates an unknown version, branch, tag or project.
	ErrNotFound = stderr.New("not found")

	// ErrDuplicateName indicates a branch or tag name is already taken.
	ErrDuplicateName = stderr.New("name already exists")

	// ErrDanglingReference indicates a branch or tag points to a missing version.
	ErrDanglingReference = stderr.New("dangling reference")
)

// Validation errors.
var (
	// ErrInvalidKey indicates a config key does not match the key pattern.
	ErrInvalidKey = stderr.New("invalid key")

	// ErrInvalidName indicates a project id, branch or tag name does not match
	// its pattern.
	ErrInvalidName = stderr.New("invalid name")
)

// Sync errors.
var (
	// ErrNoChanges indicates a push or merge had nothing to record.
	ErrNoChanges = stderr.New("no changes")

	// ErrUnresolved indicates a conflicting key has no decision.
	ErrUnresolved = stderr.New("unresolved conflict")

	// ErrAborted indicates the user aborted an interactive resolution.
	ErrAborted = stderr.New("aborted")
)

// OpError records the operation and subjects of a failure.
type OpError struct {
	Op      string
	Project string
	Name    string
	Err     error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Project != "" {
		fmt.Fprintf(&b, " project=%s", e.Project)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " name=%s", e.Name)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// E wraps err with operation context. A nil err yields nil.
func E(op, project, name string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Project: project, Name: name, Err: err}
}

// IsSilent reports whether err may be treated as a normal no-op.
func IsSilent(err error) bool {
	return stderr.Is(err, ErrNoChanges)
}

// IsFatal reports whether err is a corruption or tampering error.
func IsFatal(err error) bool {
	return stderr.Is(err, ErrIntegrity) ||
		stderr.Is(err, ErrMalformedPayload) ||
		stderr.Is(err, ErrDanglingReference)
}

// Is is a shortcut to the standard library errors.Is.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// As is a shortcut to the standard library errors.As.
func As(err error, target any) bool {
	return stderr.As(err, target)
}
