package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/oauth2"
)

// IMAPConfig locates the IMAP and SMTP servers of a mailbox.
type IMAPConfig struct {
	Host     string
	Port     int
	TLS      bool
	SMTPHost string
	SMTPPort int
	SMTPTLS  bool
	Username string
}

// IMAP implements Mailbox over IMAP for reading and SMTP for sending,
// both authenticated with OAUTHBEARER. Message-ID headers serve as ids.
type IMAP struct {
	cfg IMAPConfig
	ts  oauth2.TokenSource
}

var _ Mailbox = (*IMAP)(nil)

// NewIMAP creates an IMAP mailbox for cfg.Username.
func NewIMAP(cfg IMAPConfig, ts oauth2.TokenSource) *IMAP {
	return &IMAP{cfg: cfg, ts: ts}
}

func (c *IMAP) bearer(host string, port int) (sasl.Client, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return nil, &AuthExpiredError{Provider: ProviderIMAP, Message: err.Error()}
	}
	return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.cfg.Username,
		Token:    tok.AccessToken,
		Host:     host,
		Port:     port,
	}), nil
}

// connect dials, authenticates and selects INBOX. The connection is torn
// down if ctx ends first. The caller must call the returned release func.
func (c *IMAP) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port)

	var (
		client *imapclient.Client
		err    error
	)
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, &TransientFetchError{Provider: ProviderIMAP, Op: "dial", Err: err}
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	release := func() {
		stop()
		_ = client.Logout().Wait()
	}

	auth, err := c.bearer(c.cfg.Host, c.cfg.Port)
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := client.Authenticate(auth); err != nil {
		release()
		return nil, nil, &AuthExpiredError{
			Provider: ProviderIMAP,
			Message:  fmt.Sprintf("authentication failed for %s: %v", c.cfg.Username, err),
		}
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		release()
		return nil, nil, c.transient(ctx, "select", err)
	}
	return client, release, nil
}

// ListRecentMessageIDs returns the Message-IDs of the newest INBOX mail.
func (c *IMAP) ListRecentMessageIDs(ctx context.Context, limit int) ([]string, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, c.transient(ctx, "search", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{Envelope: true, UID: true})
	defer fetchCmd.Close()

	byUID := make(map[imap.UID]string, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		if buf.Envelope != nil && buf.Envelope.MessageID != "" {
			byUID[buf.UID] = buf.Envelope.MessageID
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, c.transient(ctx, "fetch", err)
	}

	// Newest first, matching the Gmail listing order.
	ids := make([]string, 0, len(byUID))
	for i := len(uids) - 1; i >= 0; i-- {
		if id, ok := byUID[uids[i]]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetMessage finds a message by Message-ID and extracts a snippet from
// its body.
func (c *IMAP) GetMessage(ctx context.Context, id string) (*RemoteMessage, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-Id", Value: id}},
	}, nil).Wait()
	if err != nil {
		return nil, c.transient(ctx, "search", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, fmt.Errorf("imap message %s: %w", id, ErrNotFound)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids[0]), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("imap message %s: %w", id, ErrNotFound)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, c.transient(ctx, "fetch", err)
	}

	rm := &RemoteMessage{ID: id, Labels: []string{inboxLabel}}
	if env := buf.Envelope; env != nil {
		rm.Subject = env.Subject
		rm.Date = dateOrNow(env.Date)
		if len(env.From) > 0 {
			rm.From = formatAddress(env.From[0])
		}
		to := make([]string, 0, len(env.To))
		for _, a := range env.To {
			to = append(to, a.Addr())
		}
		rm.To = strings.Join(to, ", ")
	}
	if raw := buf.FindBodySection(bodySection); raw != nil {
		text, htmlBody := parseMIMEBody(raw)
		if text == "" {
			text = PlainText(htmlBody)
		}
		rm.Snippet = Snippet(text, SnippetLength)
	}
	return rm, nil
}

// SendRaw submits the message over SMTP and returns its Message-ID.
func (c *IMAP) SendRaw(ctx context.Context, raw string) (string, error) {
	data, err := DecodeRaw(raw)
	if err != nil {
		return "", fmt.Errorf("decoding message: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing message: %w", err)
	}
	header := mr.Header
	_ = mr.Close()

	from, err := header.AddressList("From")
	if err != nil || len(from) == 0 {
		return "", fmt.Errorf("message has no valid From header")
	}
	var rcpts []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		list, err := header.AddressList(field)
		if err != nil {
			return "", fmt.Errorf("parsing %s header: %w", field, err)
		}
		for _, a := range list {
			rcpts = append(rcpts, a.Address)
		}
	}
	msgID, err := header.MessageID()
	if err != nil || msgID == "" {
		return "", fmt.Errorf("message has no Message-Id header")
	}

	client, err := c.dialSMTP(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	auth, err := c.bearer(c.cfg.SMTPHost, c.cfg.SMTPPort)
	if err != nil {
		return "", err
	}
	if err := client.Auth(auth); err != nil {
		return "", &AuthExpiredError{Provider: ProviderIMAP, Message: fmt.Sprintf("SMTP auth: %v", err)}
	}
	if err := client.SendMail(from[0].Address, rcpts, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("SMTP send: %w", err)
	}
	_ = client.Quit()

	return msgID, nil
}

func (c *IMAP) dialSMTP(ctx context.Context) (*smtp.Client, error) {
	addr := c.cfg.SMTPHost + ":" + strconv.Itoa(c.cfg.SMTPPort)
	tlsConfig := &tls.Config{ServerName: c.cfg.SMTPHost}

	var (
		client *smtp.Client
		err    error
	)
	if c.cfg.SMTPTLS {
		client, err = smtp.DialTLS(addr, tlsConfig)
	} else {
		client, err = smtp.DialStartTLS(addr, tlsConfig)
	}
	if err != nil {
		return nil, &TransientFetchError{Provider: ProviderIMAP, Op: "smtp dial", Err: err}
	}
	context.AfterFunc(ctx, func() { _ = client.Close() })
	return client, nil
}

func (c *IMAP) transient(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return &TransientFetchError{Provider: ProviderIMAP, Op: op, Err: err}
}

func formatAddress(a imap.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
	}
	return a.Addr()
}

// parseMIMEBody parses a raw RFC 5322 message with go-message and
// returns its text/plain and text/html parts. Attachments are skipped.
func parseMIMEBody(raw []byte) (textBody string, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF or a malformed part; keep what was read.
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}
	return textBody, htmlBody
}

// dateOrNow guards against servers returning a zero envelope date.
func dateOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
