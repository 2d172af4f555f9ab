package model

import "time"

// Identity is the stable remote identity returned by an authorization.
type Identity struct {
	Email     string
	SubjectID string
}

// User is an authorized mailbox owner. Tokens are stored only as vault
// ciphertext; either may be nil.
type User struct {
	ID              int64
	Email           string
	GoogleID        string
	EncRefreshToken *string
	EncAccessToken  *string
	TokenExpiry     *time.Time
	CreatedAt       time.Time
}

// TokenUpdate carries freshly encrypted tokens for an upsert. A nil
// EncRefreshToken leaves the stored refresh token untouched.
type TokenUpdate struct {
	Email           string
	GoogleID        string
	EncAccessToken  *string
	EncRefreshToken *string
	TokenExpiry     *time.Time
}
