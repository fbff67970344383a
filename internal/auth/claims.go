package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the subset of an identity assertion this service relies on.
// Firebase ID tokens carry the uid in both "sub" and "user_id".
type Claims struct {
	jwt.RegisteredClaims

	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	AuthTime      int64  `json:"auth_time,omitempty"`
}

// UID returns the authenticated user id.
func (c Claims) UID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}
