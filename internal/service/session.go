package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatewarden/gatewarden/internal/model"
)

const (
	sessionIssuer     = "gatewarden"
	defaultSessionTTL = 12 * time.Hour
	minSecretLen      = 32
)

type sessionClaims struct {
	OrgID string `json:"org,omitempty"`
	Admin bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies the signed bearer tokens used on the
// management surface. Tokens are HS256 over a shared secret.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if len(secret) < minSecretLen {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a token for the subject. A zero ttl uses the configured
// default.
func (s *Sessions) Issue(ownerID, orgID string, admin bool, ttl time.Duration) (string, time.Time, error) {
	if ownerID == "" {
		return "", time.Time{}, errors.New("owner id required")
	}
	if ttl == 0 {
		ttl = s.ttl
	}

	now := time.Now()
	exp := now.Add(ttl)
	claims := sessionClaims{
		OrgID: orgID,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses a token and returns the identity it carries. Every failure
// mode maps to ErrInvalidCredential.
func (s *Sessions) Verify(tokenStr string) (*model.Identity, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}

	if claims.Subject == "" {
		return nil, ErrInvalidCredential
	}

	return &model.Identity{
		SubjectID: claims.Subject,
		OrgID:     claims.OrgID,
		Method:    model.MethodSession,
		Admin:     claims.Admin,
	}, nil
}
