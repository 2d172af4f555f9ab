// Package mailflow moves messages through their local lifecycle and
// sends outgoing mail.
package mailflow

import (
	"errors"
	"fmt"

	"github.com/nhle/mailpipe/internal/model"
)

// ErrInvalidTransition is returned when an action is not allowed from
// the message's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Action is a user operation on a message.
type Action string

const (
	ActionArchive  Action = "archive"
	ActionTrash    Action = "trash"
	ActionRestore  Action = "restore"
	ActionMarkRead Action = "mark_read"
	ActionSend     Action = "send"
)

// Apply returns the status a message in current ends up in after action.
// Archive, trash and restore succeed from any status and are idempotent.
// Send is only valid from draft.
func Apply(current model.Status, action Action) (model.Status, error) {
	switch action {
	case ActionArchive:
		return model.StatusArchived, nil
	case ActionTrash:
		return model.StatusTrashed, nil
	case ActionRestore:
		return model.StatusInbox, nil
	case ActionMarkRead:
		return current, nil
	case ActionSend:
		if current != model.StatusDraft {
			return current, fmt.Errorf("%w: cannot send a message in %s", ErrInvalidTransition, current)
		}
		return model.StatusSent, nil
	default:
		return current, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
}
