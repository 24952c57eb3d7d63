// internal/statetoken/statetoken.go
package statetoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidState is the only error Verify returns. Callers must not be able
// to distinguish a tampered state from an expired one (oracle leakage); the
// distinction is logged server-side only.
var ErrInvalidState = errors.New("invalid state")

// Payload is the OAuth flow context carried through the redirect.
type Payload struct {
	TenantID string `json:"tenantId"`
	Provider string `json:"provider"`
	Purpose  string `json:"purpose,omitempty"`
}

type envelope struct {
	Payload   Payload `json:"p"`
	IssuedAt  int64   `json:"iat"`
	Signature []byte  `json:"sig"`
}

// Signer creates and verifies tamper-evident, time-bound state blobs without
// server-side session storage. Pure function of input + secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	log    *zap.SugaredLogger

	// now is swappable for tests.
	now func() time.Time
}

func NewSigner(secret string, ttl time.Duration, log *zap.SugaredLogger) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, log: log, now: time.Now}
}

// Create serializes the payload plus a server-side timestamp, signs it with
// HMAC-SHA256 and returns the base64url blob.
func (s *Signer) Create(p Payload) (string, error) {
	iat := s.now().Unix()
	sig, err := s.sign(p, iat)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(envelope{Payload: p, IssuedAt: iat, Signature: sig})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify decodes the blob, recomputes the HMAC over the extracted payload and
// checks the age window. Any malformation, mismatch or expiry yields
// ErrInvalidState.
func (s *Signer) Verify(opaque string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(opaque)
	if err != nil {
		s.log.Warnw("state reject", "reason", "bad base64")
		return Payload{}, ErrInvalidState
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warnw("state reject", "reason", "bad json")
		return Payload{}, ErrInvalidState
	}
	want, err := s.sign(env.Payload, env.IssuedAt)
	if err != nil {
		return Payload{}, ErrInvalidState
	}
	if !hmac.Equal(env.Signature, want) {
		s.log.Warnw("state reject", "reason", "signature mismatch")
		return Payload{}, ErrInvalidState
	}
	age := s.now().Sub(time.Unix(env.IssuedAt, 0))
	if age < 0 || age > s.ttl {
		s.log.Warnw("state reject", "reason", "expired", "age", age.String())
		return Payload{}, ErrInvalidState
	}
	return env.Payload, nil
}

func (s *Signer) sign(p Payload, iat int64) ([]byte, error) {
	body, err := json.Marshal(struct {
		Payload  Payload `json:"p"`
		IssuedAt int64   `json:"iat"`
	}{p, iat})
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return mac.Sum(nil), nil
}
