package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider identifies a remote mailbox implementation.
type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// ErrNotFound is returned when the remote message no longer exists.
var ErrNotFound = errors.New("remote message not found")

// AuthExpiredError indicates the remote rejected the credential. The user
// must authorize again; retrying with the same credential is pointless.
type AuthExpiredError struct {
	Provider Provider
	Message  string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired (%s): %s", e.Provider, e.Message)
}

// IsAuthExpired reports whether err (or any error in its chain) is an
// AuthExpiredError.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}

// TransientFetchError wraps a network, timeout or rate-limit failure that
// is safe to retry.
type TransientFetchError struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient %s failure (%s): %v", e.Op, e.Provider, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// RemoteMessage is the metadata fetched for one remote message.
type RemoteMessage struct {
	ID      string
	From    string
	To      string
	Subject string
	Snippet string
	Labels  []string
	Date    time.Time
}

// Mailbox is the remote mailbox bound to one user's credential.
type Mailbox interface {
	// ListRecentMessageIDs returns up to limit inbox message ids, newest first.
	ListRecentMessageIDs(ctx context.Context, limit int) ([]string, error)

	// GetMessage fetches headers and a snippet for one message.
	GetMessage(ctx context.Context, id string) (*RemoteMessage, error)

	// SendRaw sends a base64url encoded RFC 5322 message and returns the
	// id the remote assigned to it.
	SendRaw(ctx context.Context, raw string) (string, error)
}
