package annotate

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/model"
)

// AnnotatedMessage is a message with its annotations decrypted. Err is
// set when a stored annotation could not be read; the fields it covers
// are left empty.
type AnnotatedMessage struct {
	model.Message
	Classification *ai.Classification
	Summary        string
	Err            error
}

// Corrupt reports whether an annotation of the message was unreadable.
func (m AnnotatedMessage) Corrupt() bool { return m.Err != nil }

// Reader decrypts annotations for display.
type Reader struct {
	vault  *credential.Vault
	logger *log.Logger
}

// NewReader creates a Reader.
func NewReader(vault *credential.Vault, logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reader{vault: vault, logger: logger}
}

// Decorate decrypts the annotations of msgs. A row whose annotation
// cannot be decrypted is returned with Err holding a
// credential.IntegrityError; the other rows are unaffected.
func (r *Reader) Decorate(msgs []model.Message) []AnnotatedMessage {
	out := make([]AnnotatedMessage, 0, len(msgs))
	for _, m := range msgs {
		am, err := r.decorate(m)
		if err != nil {
			r.logger.Warn("unreadable annotation", "message", m.ID, "err", err)
			am = AnnotatedMessage{Message: m, Err: err}
		}
		out = append(out, am)
	}
	return out
}

func (r *Reader) decorate(m model.Message) (AnnotatedMessage, error) {
	am := AnnotatedMessage{Message: m}

	if m.ClassificationEnc != nil {
		plain, err := r.vault.DecryptString(*m.ClassificationEnc)
		if err != nil {
			return am, fmt.Errorf("decrypting classification of message %d: %w", m.ID, err)
		}
		var cls ai.Classification
		if err := json.Unmarshal([]byte(plain), &cls); err != nil {
			return am, fmt.Errorf("decoding classification of message %d: %w", m.ID,
				&credential.IntegrityError{Reason: "classification is not valid JSON", Err: err})
		}
		cls.Label = ai.ParseLabel(string(cls.Label))
		am.Classification = &cls
	}

	if m.SummaryEnc != nil {
		plain, err := r.vault.DecryptString(*m.SummaryEnc)
		if err != nil {
			return am, fmt.Errorf("decrypting summary of message %d: %w", m.ID, err)
		}
		am.Summary = plain
	}
	return am, nil
}
