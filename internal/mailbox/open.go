package mailbox

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/nhle/mailpipe/internal/model"
)

// Open builds the configured Mailbox for the user identified by email.
func Open(
	ctx context.Context,
	cfg model.MailboxConfig,
	requestsPerSecond float64,
	email string,
	ts oauth2.TokenSource,
	logger *log.Logger,
) (Mailbox, error) {
	switch Provider(cfg.Provider) {
	case ProviderGmail, "":
		return NewGmail(ctx, ts, GmailOptions{
			RequestsPerSecond: requestsPerSecond,
			Logger:            logger,
		})
	case ProviderIMAP:
		if cfg.IMAP.Host == "" || cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("mailbox.imap.host and mailbox.smtp.host are required for the imap provider")
		}
		return NewIMAP(IMAPConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			TLS:      cfg.IMAP.TLS,
			SMTPHost: cfg.SMTP.Host,
			SMTPPort: cfg.SMTP.Port,
			SMTPTLS:  cfg.SMTP.TLS,
			Username: email,
		}, ts), nil
	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", cfg.Provider)
	}
}
