package model

import "time"

// Status is the lifecycle state of a Message.
type Status string

const (
	StatusInbox    Status = "inbox"
	StatusArchived Status = "archived"
	StatusTrashed  Status = "trashed"
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInbox, StatusArchived, StatusTrashed, StatusDraft, StatusSent:
		return true
	}
	return false
}

// Message is one mail item mirrored from the remote mailbox or created
// locally as a draft or sent mail.
type Message struct {
	// ID is the local store identifier.
	ID int64 `json:"id"`

	// ExternalID is the remote message id, or a synthesized key for drafts.
	// It is unique across the whole store.
	ExternalID string `json:"external_id"`

	// UserID is the owning user.
	UserID int64 `json:"user_id"`

	Sender     string `json:"sender"`
	Recipients string `json:"recipients"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`

	// Labels mirrors the remote folder labels, comma separated.
	Labels string `json:"labels"`

	// SummaryEnc and ClassificationEnc hold vault ciphertext. Nil means
	// the annotation has not been produced yet.
	SummaryEnc        *string `json:"-"`
	ClassificationEnc *string `json:"-"`

	IsSpam  bool `json:"is_spam"`
	IsRead  bool `json:"is_read"`
	IsDraft bool `json:"is_draft"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Annotated reports whether both annotation fields are present.
func (m Message) Annotated() bool {
	return m.SummaryEnc != nil && m.ClassificationEnc != nil
}
