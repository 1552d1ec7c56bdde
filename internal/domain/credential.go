package domain

import "time"

// Credential is an issued access token. A refreshed token is a new
// Credential; values are never mutated after issue.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	ObtainedAt  time.Time `json:"obtained_at"`
	// ExpiresIn is the provider's lifetime hint in seconds, zero if none.
	ExpiresIn int64  `json:"expires_in,omitempty"`
	AppID     string `json:"app_id,omitempty"`
}

// ExpiresAt returns the provider's expiry hint, if one was issued.
func (c Credential) ExpiresAt() (time.Time, bool) {
	if c.ExpiresIn <= 0 {
		return time.Time{}, false
	}
	return c.ObtainedAt.Add(time.Duration(c.ExpiresIn) * time.Second), true
}

type UserProfile struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      *string `json:"email,omitempty"`
	PictureURL *string `json:"picture,omitempty"`
}
