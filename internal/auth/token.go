package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const BusTokenTTL = 30 * time.Second

var ErrInvalidToken = errors.New("invalid or expired token")

type claims struct {
	Kind       Kind   `json:"kind"`
	OnBehalfOf string `json:"obo,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, expiryHours int) *TokenService {
	if expiryHours <= 0 {
		expiryHours = 24
	}
	return &TokenService{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
		now:    time.Now,
	}
}

// RandomSecret returns a hex secret for processes started without JWT_SECRET.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate secret")
	}
	return hex.EncodeToString(b), nil
}

// Issue signs a token for p. A zero ttl uses the configured expiry.
func (s *TokenService) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.Name == "" {
		return "", errors.New("principal name is required")
	}
	if ttl <= 0 {
		ttl = s.expiry
	}
	if p.Kind == "" {
		p.Kind = KindUser
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Kind:       p.Kind,
		OnBehalfOf: p.OnBehalfOf,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Validate checks the signature and expiry and returns the principal.
func (s *TokenService) Validate(tokenString string) (Principal, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Anonymous, errors.Wrap(ErrInvalidToken, errString(err))
	}
	if c.Subject == "" {
		return Anonymous, errors.Wrap(ErrInvalidToken, "missing subject")
	}

	kind := c.Kind
	if kind == "" {
		kind = KindUser
	}
	return Principal{Name: c.Subject, Kind: kind, OnBehalfOf: c.OnBehalfOf}, nil
}

func errString(err error) string {
	if err == nil {
		return "token not valid"
	}
	return err.Error()
}
