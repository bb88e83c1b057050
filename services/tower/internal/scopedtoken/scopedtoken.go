// Package scopedtoken mints the narrowly-scoped, single-use tokens a
// grant carries. A scoped token binds agent, merchant, ceiling and
// grant id; a merchant integration verifies it instead of ever seeing
// the agent's root credential.
package scopedtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "aslanpay-tower"

// Claims carried by a scoped token.
type Claims struct {
	Merchant  string  `json:"merchant"`
	MaxAmount float64 `json:"max_amount"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	return &Signer{secret: secret}, nil
}

// Mint issues a scoped token for one grant. The jti is the grant id,
// which makes the token as single-use as the grant itself.
func (s *Signer) Mint(agentID, grantID, merchant string, maxAmount float64, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Merchant:  merchant,
		MaxAmount: maxAmount,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   agentID,
			ID:        grantID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a scoped token.
func (s *Signer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid scoped token")
	}
	return claims, nil
}
