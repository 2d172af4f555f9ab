package mailbox

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailpipe/internal/breaker"
)

const inboxLabel = "INBOX"

// GmailOptions tunes the Gmail adapter.
type GmailOptions struct {
	RequestsPerSecond float64
	Logger            *log.Logger

	// ClientOptions are appended after the token source; tests use them
	// to point the service at a local server.
	ClientOptions []option.ClientOption
}

// Gmail implements Mailbox on the Gmail REST API.
type Gmail struct {
	svc     *gmailv1.Service
	limiter *rate.Limiter
	breaker *breaker.Breaker
	logger  *log.Logger
}

var _ Mailbox = (*Gmail)(nil)

// NewGmail creates a Gmail client authorized by ts.
func NewGmail(ctx context.Context, ts oauth2.TokenSource, opts GmailOptions) (*Gmail, error) {
	clientOpts := append([]option.ClientOption{option.WithTokenSource(ts)}, opts.ClientOptions...)
	svc, err := gmailv1.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Gmail{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: breaker.New("gmail-api", logger),
		logger:  logger,
	}, nil
}

// ListRecentMessageIDs lists the newest inbox messages.
func (g *Gmail) ListRecentMessageIDs(ctx context.Context, limit int) ([]string, error) {
	var resp *gmailv1.ListMessagesResponse
	err := g.call(ctx, "list", func() error {
		var err error
		resp, err = g.svc.Users.Messages.List("me").
			LabelIds(inboxLabel).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessage fetches message metadata.
func (g *Gmail) GetMessage(ctx context.Context, id string) (*RemoteMessage, error) {
	var msg *gmailv1.Message
	err := g.call(ctx, "get", func() error {
		var err error
		msg, err = g.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "To", "Subject").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	rm := &RemoteMessage{
		ID:      msg.Id,
		Snippet: Snippet(html.UnescapeString(msg.Snippet), SnippetLength),
		Labels:  msg.LabelIds,
		Date:    time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				rm.From = h.Value
			case "to":
				rm.To = h.Value
			case "subject":
				rm.Subject = h.Value
			}
		}
	}
	return rm, nil
}

// SendRaw sends an encoded message through the Gmail API.
func (g *Gmail) SendRaw(ctx context.Context, raw string) (string, error) {
	var sent *gmailv1.Message
	err := g.call(ctx, "send", func() error {
		var err error
		sent, err = g.svc.Users.Messages.Send("me", &gmailv1.Message{Raw: raw}).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

// call rate limits fn, runs it behind the breaker and maps the error.
func (g *Gmail) call(ctx context.Context, op string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &TransientFetchError{Provider: ProviderGmail, Op: op, Err: err}
	}
	err := g.breaker.Do(fn, tripsBreaker)
	if err != nil {
		g.logger.Debug("gmail call failed", "op", op, "error", err)
	}
	return classifyGmailError(op, err)
}

// tripsBreaker counts only server-side trouble against the breaker.
func tripsBreaker(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var rErr *oauth2.RetrieveError
	return !errors.As(err, &rErr)
}

func classifyGmailError(op string, err error) error {
	if err == nil {
		return nil
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return &AuthExpiredError{Provider: ProviderGmail, Message: rErr.Error()}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return &AuthExpiredError{Provider: ProviderGmail, Message: apiErr.Message}
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("gmail %s: %w", op, ErrNotFound)
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500, isRateLimited(apiErr):
			return &TransientFetchError{Provider: ProviderGmail, Op: op, Err: err}
		}
		return fmt.Errorf("gmail %s: %w", op, err)
	}

	var netErr net.Error
	if breaker.IsOpen(err) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransientFetchError{Provider: ProviderGmail, Op: op, Err: err}
	}
	return fmt.Errorf("gmail %s: %w", op, err)
}

// isRateLimited detects the 403 quota responses Gmail uses alongside 429.
func isRateLimited(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
