// Package apperr maps domain errors onto the categories the CLI reports.
package apperr

import (
	"errors"
	"fmt"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/mailflow"
	"github.com/nhle/mailpipe/internal/store"
)

// Category classifies an error for the user.
type Category string

const (
	AuthExpired Category = "auth_expired"
	Transient   Category = "transient"
	NotFound    Category = "not_found"
	Integrity   Category = "integrity"
	Invalid     Category = "invalid"
	Internal    Category = "internal"
)

var exitCodes = map[Category]int{
	Internal:    1,
	Invalid:     2,
	AuthExpired: 3,
	Transient:   4,
	NotFound:    5,
	Integrity:   6,
}

// ExitCode is the process exit status for c.
func (c Category) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return 1
}

// Error is an error with a user-facing message.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error.
func New(c Category, message string, err error) *Error {
	return &Error{Category: c, Message: message, Err: err}
}

// Invalidf reports bad user input.
func Invalidf(format string, args ...interface{}) *Error {
	return &Error{Category: Invalid, Message: fmt.Sprintf(format, args...)}
}

// From categorizes err. An *Error already in the chain is returned as is.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var missing *credential.MissingCredentialError
	switch {
	case mailbox.IsAuthExpired(err):
		return New(AuthExpired, "authorization expired, run `mailpipe login` again", err)
	case errors.As(err, &missing):
		return New(AuthExpired, "no stored credentials, run `mailpipe login`", err)
	case credential.IsIntegrityError(err):
		return New(Integrity, "stored data could not be decrypted; check the vault key", err)
	case mailbox.IsTransient(err), ai.IsUnavailable(err):
		return New(Transient, "remote service unavailable, try again later", err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, mailbox.ErrNotFound), errors.Is(err, jobs.ErrUnknownJob):
		return New(NotFound, "not found", err)
	case errors.Is(err, mailflow.ErrInvalidTransition):
		return New(Invalid, "that action is not allowed for this message", err)
	default:
		return New(Internal, "unexpected error", err)
	}
}

// Describe returns the one-line "category: message" text shown to users,
// without internal detail.
func Describe(err error) string {
	e := From(err)
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}
