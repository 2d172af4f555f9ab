package mailbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Outgoing is a plain-text message to compose.
type Outgoing struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// ComposeMIME renders msg as an RFC 5322 message, base64url encoded the
// way the Gmail send endpoint expects it.
func ComposeMIME(msg Outgoing, now time.Time) (string, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return "", fmt.Errorf("parsing sender %q: %w", msg.From, err)
	}
	if len(msg.To) == 0 {
		return "", fmt.Errorf("message has no recipients")
	}
	to, err := mail.ParseAddressList(strings.Join(msg.To, ", "))
	if err != nil {
		return "", fmt.Errorf("parsing recipients: %w", err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return "", fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return "", fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing message writer: %w", err)
	}

	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeRaw reverses the base64url step of ComposeMIME. Padded and
// unpadded input are both accepted.
func DecodeRaw(raw string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(padBase64(raw))
}

func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}
