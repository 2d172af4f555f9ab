package credential

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/nhle/mailpipe/internal/model"
)

// GoogleScopes are requested on every authorization.
var GoogleScopes = []string{
	oauth2v2.OpenIDScope,
	oauth2v2.UserinfoEmailScope,
	oauth2v2.UserinfoProfileScope,
	gmailv1.GmailReadonlyScope,
	gmailv1.GmailSendScope,
}

// GoogleAuthorizer implements Authorizer against Google's OAuth endpoints.
type GoogleAuthorizer struct {
	config *oauth2.Config
}

// NewGoogleAuthorizer builds an authorizer from the client registration.
func NewGoogleAuthorizer(cfg model.GoogleConfig) (*GoogleAuthorizer, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google.client_id and google.client_secret are required")
	}
	return &GoogleAuthorizer{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       GoogleScopes,
			Endpoint:     google.Endpoint,
		},
	}, nil
}

// AuthCodeURL asks for offline access with forced consent so that a
// refresh token is issued.
func (g *GoogleAuthorizer) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades the code for tokens and looks up who they belong to.
func (g *GoogleAuthorizer) Exchange(ctx context.Context, code string) (Grant, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return Grant{}, fmt.Errorf("exchange: %w", err)
	}

	svc, err := oauth2v2.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, tok)))
	if err != nil {
		return Grant{}, fmt.Errorf("create userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Grant{}, fmt.Errorf("fetch userinfo: %w", err)
	}

	return Grant{
		Token:    tok,
		Identity: model.Identity{Email: info.Email, SubjectID: info.Id},
	}, nil
}

// TokenSource returns a refreshing source seeded with tok.
func (g *GoogleAuthorizer) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return g.config.TokenSource(ctx, tok)
}
