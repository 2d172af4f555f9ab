package mailflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailpipe/internal/mailbox"
	"github.com/nhle/mailpipe/internal/model"
)

// Store is the persistence the service needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserMessage(ctx context.Context, userID, id int64) (*model.Message, error)
	InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error)
	SetStatus(ctx context.Context, userID, id int64, status model.Status) error
	MarkRead(ctx context.Context, userID, id int64) error
}

// MailboxOpener returns the remote mailbox of a user.
type MailboxOpener func(ctx context.Context, userID int64) (mailbox.Mailbox, error)

// Draft is a locally composed message.
type Draft struct {
	To      []string
	Subject string
	Body    string
}

// SendRequest describes an outgoing message. When DraftID is set, empty
// fields are filled from that draft.
type SendRequest struct {
	DraftID int64
	To      []string
	Subject string
	Body    string
}

// Service applies user actions to messages. Every call is scoped to the
// acting user: a message owned by someone else behaves as missing.
type Service struct {
	store  Store
	open   MailboxOpener
	now    func() time.Time
	logger *log.Logger
}

// NewService creates a Service. open may be nil when Send is not used.
func NewService(s Store, open MailboxOpener, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Service{store: s, open: open, now: time.Now, logger: logger}
}

// Archive moves a message to archived.
func (s *Service) Archive(ctx context.Context, userID, id int64) (*model.Message, error) {
	return s.transition(ctx, userID, id, ActionArchive)
}

// Trash moves a message to trashed.
func (s *Service) Trash(ctx context.Context, userID, id int64) (*model.Message, error) {
	return s.transition(ctx, userID, id, ActionTrash)
}

// Restore moves a message back to the inbox.
func (s *Service) Restore(ctx context.Context, userID, id int64) (*model.Message, error) {
	return s.transition(ctx, userID, id, ActionRestore)
}

// MarkRead flags a message as read. Read flags are never cleared.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) (*model.Message, error) {
	m, err := s.store.GetUserMessage(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if m.IsRead {
		return m, nil
	}
	if err := s.store.MarkRead(ctx, userID, id); err != nil {
		return nil, err
	}
	m.IsRead = true
	return m, nil
}

func (s *Service) transition(ctx context.Context, userID, id int64, action Action) (*model.Message, error) {
	m, err := s.store.GetUserMessage(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next, err := Apply(m.Status, action)
	if err != nil {
		return nil, err
	}
	if next != m.Status {
		if err := s.store.SetStatus(ctx, userID, id, next); err != nil {
			return nil, err
		}
		s.logger.Debug("message status changed", "message", id, "from", m.Status, "to", next)
		m.Status = next
	}
	return m, nil
}

// SaveDraft stores a new draft owned by userID.
func (s *Service) SaveDraft(ctx context.Context, userID int64, d Draft) (*model.Message, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m, err := s.store.InsertMessage(ctx, model.Message{
		ExternalID: fmt.Sprintf("draft_%d_%d", userID, now.UnixNano()),
		UserID:     userID,
		Sender:     user.Email,
		Recipients: strings.Join(d.To, ", "),
		Subject:    d.Subject,
		Snippet:    d.Body,
		IsDraft:    true,
		IsRead:     true,
		Status:     model.StatusDraft,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}
	return m, nil
}

// Send composes and sends a message through the user's mailbox and
// records it as a new sent row. A draft it was sent from is left as is.
func (s *Service) Send(ctx context.Context, userID int64, req SendRequest) (*model.Message, error) {
	if req.DraftID != 0 {
		draft, err := s.store.GetUserMessage(ctx, userID, req.DraftID)
		if err != nil {
			return nil, err
		}
		if _, err := Apply(draft.Status, ActionSend); err != nil {
			return nil, err
		}
		if len(req.To) == 0 {
			req.To = splitRecipients(draft.Recipients)
		}
		if req.Subject == "" {
			req.Subject = draft.Subject
		}
		if req.Body == "" {
			req.Body = draft.Snippet
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	raw, err := mailbox.ComposeMIME(mailbox.Outgoing{
		From:    user.Email,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("composing message: %w", err)
	}

	if s.open == nil {
		return nil, fmt.Errorf("sending is not configured")
	}
	mb, err := s.open(ctx, userID)
	if err != nil {
		return nil, err
	}
	remoteID, err := mb.SendRaw(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if remoteID == "" {
		remoteID = fmt.Sprintf("sent_%d_%d", userID, now.UnixNano())
	}

	m, err := s.store.InsertMessage(ctx, model.Message{
		ExternalID: remoteID,
		UserID:     userID,
		Sender:     user.Email,
		Recipients: strings.Join(req.To, ", "),
		Subject:    req.Subject,
		Snippet:    mailbox.Snippet(req.Body, mailbox.SnippetLength),
		IsRead:     true,
		Status:     model.StatusSent,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("recording sent message %s: %w", remoteID, err)
	}

	s.logger.Info("message sent", "id", remoteID, "to", m.Recipients)
	return m, nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
