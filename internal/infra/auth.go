// README: Bearer token identities; HS256 JWT verifier and issuer.
package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/spf13/cast"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type Role string

const (
	RoleDriver     Role = "driver"
	RolePassenger  Role = "passenger"
	RoleFleetAdmin Role = "fleet-admin"
	RoleSuperAdmin Role = "super-admin"
	RoleSystem     Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RolePassenger, RoleFleetAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller carried by a bearer token.
type Identity struct {
	Role    Role     `json:"role"`
	ID      types.ID `json:"id"`
	FleetID types.ID `json:"fleetId,omitempty"`
}

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier verifies a raw bearer token string and returns the caller identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) VerifyToken(_ context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if exp, ok := claims["exp"]; ok && time.Unix(cast.ToInt64(exp), 0).Before(v.now()) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	ident := &Identity{
		Role:    Role(cast.ToString(claims["role"])),
		ID:      types.ID(cast.ToString(claims["id"])),
		FleetID: types.ID(cast.ToString(claims["fleetId"])),
	}
	if !ident.Role.Valid() || ident.ID == "" {
		return nil, fmt.Errorf("%w: missing role or id", ErrInvalidToken)
	}
	if (ident.Role == RoleDriver || ident.Role == RoleFleetAdmin) && ident.FleetID == "" {
		return nil, fmt.Errorf("%w: %s token without fleet", ErrInvalidToken, ident.Role)
	}
	return ident, nil
}

// IssueToken signs an HS256 token for the identity; ttl <= 0 issues a token without expiry.
func IssueToken(secret string, ident Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":   string(ident.ID),
		"role": string(ident.Role),
		"iat":  time.Now().Unix(),
	}
	if ident.FleetID != "" {
		claims["fleetId"] = string(ident.FleetID)
	}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
