package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/nhle/mailpipe/internal/model"
)

// Grant is the output of a successful authorization-code exchange.
type Grant struct {
	Token    *oauth2.Token
	Identity model.Identity
}

// Authorizer performs the provider side of the OAuth flow.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Grant, error)
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// UserStore is the persistence the manager needs.
type UserStore interface {
	UpsertUserTokens(ctx context.Context, upd model.TokenUpdate) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// MissingCredentialError means the user has neither an access nor a
// refresh token stored and must authorize again.
type MissingCredentialError struct {
	UserID int64
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("user %d has no stored credentials", e.UserID)
}

// Credential is a decrypted token pair ready for API calls.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Token converts the credential for use with golang.org/x/oauth2.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}
}

// Manager owns the token lifecycle: storing grants encrypted, and turning
// stored ciphertext back into usable credentials.
type Manager struct {
	vault  *Vault
	users  UserStore
	auth   Authorizer
	logger *log.Logger
}

// NewManager creates a Manager.
func NewManager(vault *Vault, users UserStore, auth Authorizer, logger *log.Logger) *Manager {
	return &Manager{vault: vault, users: users, auth: auth, logger: logger}
}

// AuthCodeURL returns the URL the user visits to grant access.
func (m *Manager) AuthCodeURL(state string) string {
	return m.auth.AuthCodeURL(state)
}

// CompleteAuthorization exchanges code for tokens and stores them for the
// identity they belong to. A grant without a refresh token keeps the one
// already on file.
func (m *Manager) CompleteAuthorization(ctx context.Context, code string) (model.Identity, error) {
	grant, err := m.auth.Exchange(ctx, code)
	if err != nil {
		return model.Identity{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if grant.Identity.Email == "" {
		return model.Identity{}, fmt.Errorf("authorization returned no email")
	}
	if grant.Token == nil {
		return model.Identity{}, fmt.Errorf("authorization returned no token")
	}

	user, err := m.storeToken(ctx, grant.Identity.Email, grant.Identity.SubjectID, grant.Token)
	if err != nil {
		return model.Identity{}, err
	}

	m.logger.Info("authorization stored",
		"user", user.ID,
		"refresh_token", grant.Token.RefreshToken != "",
	)
	return grant.Identity, nil
}

func (m *Manager) storeToken(ctx context.Context, email, subject string, tok *oauth2.Token) (*model.User, error) {
	access := tok.AccessToken
	encAccess, err := m.vault.Encrypt(&access)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}

	var encRefresh *string
	if tok.RefreshToken != "" {
		refresh := tok.RefreshToken
		if encRefresh, err = m.vault.Encrypt(&refresh); err != nil {
			return nil, fmt.Errorf("encrypting refresh token: %w", err)
		}
	}

	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}

	user, err := m.users.UpsertUserTokens(ctx, model.TokenUpdate{
		Email:           email,
		GoogleID:        subject,
		EncAccessToken:  encAccess,
		EncRefreshToken: encRefresh,
		TokenExpiry:     expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("storing tokens for %s: %w", email, err)
	}
	return user, nil
}

// MaterializeCredential decrypts the stored tokens of a user.
func (m *Manager) MaterializeCredential(ctx context.Context, userID int64) (Credential, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("loading user %d: %w", userID, err)
	}
	return m.materialize(user)
}

func (m *Manager) materialize(user *model.User) (Credential, error) {
	if user.EncAccessToken == nil && user.EncRefreshToken == nil {
		return Credential{}, &MissingCredentialError{UserID: user.ID}
	}

	access, err := m.vault.Decrypt(user.EncAccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypting access token for user %d: %w", user.ID, err)
	}
	refresh, err := m.vault.Decrypt(user.EncRefreshToken)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypting refresh token for user %d: %w", user.ID, err)
	}

	var cred Credential
	if access != nil {
		cred.AccessToken = *access
	}
	if refresh != nil {
		cred.RefreshToken = *refresh
	}
	if user.TokenExpiry != nil {
		cred.Expiry = *user.TokenExpiry
	}
	return cred, nil
}

// TokenSource returns a refreshing token source for the user. Tokens
// minted by a refresh are written back to the store.
func (m *Manager) TokenSource(ctx context.Context, userID int64) (oauth2.TokenSource, error) {
	user, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	cred, err := m.materialize(user)
	if err != nil {
		return nil, err
	}

	tok := cred.Token()
	return &persistingSource{
		base:    m.auth.TokenSource(ctx, tok),
		current: tok.AccessToken,
		save: func(t *oauth2.Token) error {
			_, err := m.storeToken(context.WithoutCancel(ctx), user.Email, user.GoogleID, t)
			return err
		},
		logger: m.logger.With("user", user.ID),
	}, nil
}

// Logout forgets the user. Their messages go with them.
func (m *Manager) Logout(ctx context.Context, userID int64) error {
	if err := m.users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("deleting user %d: %w", userID, err)
	}
	m.logger.Info("user logged out", "user", userID)
	return nil
}

type persistingSource struct {
	base   oauth2.TokenSource
	save   func(*oauth2.Token) error
	logger *log.Logger

	mu      sync.Mutex
	current string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.current {
		return tok, nil
	}
	p.current = tok.AccessToken

	if err := p.save(tok); err != nil {
		p.logger.Warn("persisting refreshed token", "error", err)
	} else {
		p.logger.Debug("refreshed token persisted")
	}
	return tok, nil
}
