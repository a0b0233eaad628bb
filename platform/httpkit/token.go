package httpkit

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenType = "access"

var errInvalidToken = errors.New("invalid token")

// AccessClaims describes the subject of an access token.
type AccessClaims struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Roles    []string
}

// accessTokenClaims is the wire form shared by SignAccessToken and AuthRequired.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	Type     string   `json:"type"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
}

// SignAccessToken issues an HS256 access token that AuthRequired accepts.
func SignAccessToken(secret string, claims AccessClaims, ttl time.Duration, now time.Time) (string, error) {
	wire := accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:  accessTokenType,
		Roles: claims.Roles,
	}
	if claims.TenantID != nil {
		wire.TenantID = claims.TenantID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString([]byte(secret))
}

// parseAccessToken verifies signature, expiry and token type, and returns the
// decoded subject.
func parseAccessToken(raw, secret string) (AccessClaims, error) {
	var wire accessTokenClaims
	_, err := jwt.ParseWithClaims(raw, &wire, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || wire.Type != accessTokenType {
		return AccessClaims{}, errInvalidToken
	}

	userID, err := uuid.Parse(wire.Subject)
	if err != nil {
		return AccessClaims{}, errInvalidToken
	}
	claims := AccessClaims{UserID: userID, Roles: wire.Roles}
	if tenant := strings.TrimSpace(wire.TenantID); tenant != "" {
		tenantID, err := uuid.Parse(tenant)
		if err != nil {
			return AccessClaims{}, errInvalidToken
		}
		claims.TenantID = &tenantID
	}
	return claims, nil
}
