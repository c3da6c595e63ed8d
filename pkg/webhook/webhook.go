// Package webhook verifies signed callbacks from external collaborators (ad
// networks, the payout processor). Payloads arrive as compact JWS signed with
// a shared HS256 secret and carry an issued-at claim.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

var (
	ErrNoSecret  = errors.New("webhook secret not configured")
	ErrSignature = errors.New("webhook signature invalid")
	ErrStale     = errors.New("webhook issued outside allowed skew")
)

type envelope struct {
	IssuedAt int64 `json:"iat"`
}

type Verifier struct {
	key     []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	return &Verifier{key: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// Verify checks the signature and freshness of compact and decodes its
// payload into v.
func (v *Verifier) Verify(compact string, out any) error {
	if v == nil || len(v.key) == 0 {
		return ErrNoSecret
	}

	obj, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	payload, err := obj.Verify(v.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}

	if v.maxSkew > 0 {
		issued := time.Unix(env.IssuedAt, 0)
		now := v.now()
		if issued.Before(now.Add(-v.maxSkew)) || issued.After(now.Add(v.maxSkew)) {
			return ErrStale
		}
	}

	return json.Unmarshal(payload, out)
}

// Sign produces a compact JWS for payload. Used by tests and by operators
// replaying callbacks by hand.
func Sign(secret string, payload any) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	obj, err := signer.Sign(b)
	if err != nil {
		return "", err
	}

	return obj.CompactSerialize()
}
