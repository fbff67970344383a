package rtctoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/AgoraIO-Community/go-tokenbuilder/rtctokenbuilder"
)

// DefaultTTL is how long issued call credentials stay valid.
const DefaultTTL = time.Hour

var ErrInvalidCredentials = errors.New("rtctoken: invalid app id or app certificate")

// Config holds the RTC application credentials.
type Config struct {
	AppID          string
	AppCertificate string
	TTL            time.Duration
}

// Pair is the two credentials issued for one call.
type Pair struct {
	Channel       string
	CallerUID     uint32
	ReceiverUID   uint32
	CallerToken   string
	ReceiverToken string
	ExpiresAt     time.Time
}

// Issuer mints per-party channel credentials.
type Issuer struct {
	appID   string
	appCert string
	ttl     time.Duration
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if err := ValidateCredentials(cfg.AppID, cfg.AppCertificate); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{appID: cfg.AppID, appCert: cfg.AppCertificate, ttl: ttl}, nil
}

func (i *Issuer) AppID() string { return i.appID }

// Issue signs one publisher token for uid on channel. Privileges expire at
// expiresAt.
func (i *Issuer) Issue(channel string, uid uint32, expiresAt time.Time) (string, error) {
	if uid == 0 {
		return "", errors.New("rtctoken: numeric identity must be non-zero")
	}
	if channel == "" {
		return "", errors.New("rtctoken: channel is required")
	}
	return rtctokenbuilder.BuildTokenWithUID(i.appID, i.appCert, channel, uid, rtctokenbuilder.RolePublisher, uint32(expiresAt.Unix()))
}

// IssuePair signs caller and receiver tokens for the same channel with the
// same absolute expiry.
func (i *Issuer) IssuePair(channel string, callerUID, receiverUID uint32, now time.Time) (Pair, error) {
	if callerUID == receiverUID {
		return Pair{}, errors.New("rtctoken: caller and receiver identities must differ")
	}
	expiresAt := now.Add(i.ttl).Truncate(time.Second)

	callerToken, err := i.Issue(channel, callerUID, expiresAt)
	if err != nil {
		return Pair{}, fmt.Errorf("caller token: %w", err)
	}
	receiverToken, err := i.Issue(channel, receiverUID, expiresAt)
	if err != nil {
		return Pair{}, fmt.Errorf("receiver token: %w", err)
	}

	return Pair{
		Channel:       channel,
		CallerUID:     callerUID,
		ReceiverUID:   receiverUID,
		CallerToken:   callerToken,
		ReceiverToken: receiverToken,
		ExpiresAt:     expiresAt,
	}, nil
}

// ValidateCredentials checks the shape of an app id / certificate pair. The
// token builder signs anything, so a typo would only surface as join failures
// on devices.
func ValidateCredentials(appID, appCertificate string) error {
	if !isHex32(appID) || !isHex32(appCertificate) {
		return ErrInvalidCredentials
	}
	return nil
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
