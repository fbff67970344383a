package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-signaling/internal/config"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("auth: identity token is required")
	ErrUIDMismatch  = errors.New("auth: token uid does not match claimed identity")
)

// IDTokenVerifier is the part of the Firebase Admin auth client used here.
// *firebase.google.com/go/v4/auth.Client satisfies it.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Manager verifies identity assertions.
//
// In firebase mode tokens are Firebase ID tokens checked by the Admin SDK
// (signature, issuer, audience, expiry and auth_time). In local mode tokens are
// HS256 and can be issued with Issue.
type Manager struct {
	mode     string
	secret   []byte
	issuer   string
	audience string
	firebase IDTokenVerifier
	leeway   time.Duration
}

// NewManager builds a Manager for cfg.Mode. firebase is required in firebase
// mode and ignored in local mode.
func NewManager(cfg config.AuthConfig, firebase IDTokenVerifier) (*Manager, error) {
	m := &Manager{mode: cfg.Mode, leeway: 30 * time.Second}
	switch cfg.Mode {
	case config.AuthModeFirebase:
		if cfg.FirebaseProjectID == "" {
			return nil, errors.New("FIREBASE_PROJECT_ID is required")
		}
		if firebase == nil {
			return nil, errors.New("auth: firebase mode needs an ID token verifier")
		}
		m.firebase = firebase
	case config.AuthModeLocal:
		if cfg.JWTSecret == "" {
			return nil, errors.New("JWT_SECRET is required")
		}
		m.secret = []byte(cfg.JWTSecret)
		m.issuer = cfg.JWTIssuer
		m.audience = cfg.JWTAudience
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
	return m, nil
}

/* ===================== ISSUE (local mode) ===================== */

// Issue signs a local-mode token for uid. It fails in firebase mode, where
// tokens come from the Firebase client SDK.
func (m *Manager) Issue(now time.Time, uid string, ttl time.Duration) (string, error) {
	if m.mode != config.AuthModeLocal {
		return "", errors.New("auth: Issue is only available in local mode")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   uid,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID: uid,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

/* ===================== VERIFY ===================== */

// Verify checks the token and returns its claims. now only applies to local
// tokens; the Firebase SDK uses its own clock.
func (m *Manager) Verify(ctx context.Context, tokenString string, now time.Time) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrMissingToken
	}
	if m.mode == config.AuthModeFirebase {
		tok, err := m.firebase.VerifyIDToken(ctx, tokenString)
		if err != nil {
			return Claims{}, err
		}
		claims := firebaseClaims(tok)
		if claims.UID() == "" {
			return Claims{}, errors.New("uid missing")
		}
		return claims, nil
	}

	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(m.leeway), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.UID() == "" {
		return Claims{}, errors.New("uid missing")
	}
	return claims, nil
}

// VerifyFor verifies the token and requires it to attest to uid.
func (m *Manager) VerifyFor(ctx context.Context, tokenString, uid string, now time.Time) (Claims, error) {
	claims, err := m.Verify(ctx, tokenString, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.UID() != uid {
		return Claims{}, ErrUIDMismatch
	}
	return claims, nil
}

func firebaseClaims(tok *fbauth.Token) Claims {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tok.Issuer,
			Subject:   tok.UID,
			Audience:  audienceOrNil(tok.Audience),
			ExpiresAt: jwt.NewNumericDate(time.Unix(tok.Expires, 0)),
			IssuedAt:  jwt.NewNumericDate(time.Unix(tok.IssuedAt, 0)),
		},
		UserID:   tok.UID,
		AuthTime: tok.AuthTime,
	}
	if c.Subject == "" {
		c.Subject = tok.Subject
	}
	if email, ok := tok.Claims["email"].(string); ok {
		c.Email = email
	}
	if v, ok := tok.Claims["email_verified"].(bool); ok {
		c.EmailVerified = v
	}
	return c
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
