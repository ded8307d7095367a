package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agrosentry/internal/domain"
)

// Claims carries the caller's role. For drone tokens the subject is the
// drone id the token may report telemetry for.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

func (a *Authenticator) IssueToken(name, role string) (string, time.Time, error) {
	if strings.TrimSpace(name) == "" || !domain.ValidateRole(role) {
		return "", time.Time{}, fmt.Errorf("name and valid role required: %w", domain.ErrInvalid)
	}
	now := time.Now().UTC()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	str, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return str, exp, nil
}

func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !domain.ValidateRole(claims.Role) {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// Authenticate resolves an Authorization header value to claims.
func (a *Authenticator) Authenticate(authHeader string) (*Claims, error) {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrUnauthorized)
	}
	return claims, nil
}

func ExtractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Allow reports whether claims may act with one of the roles. Admin is
// always allowed.
func Allow(claims *Claims, roles ...string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == domain.RoleAdmin {
		return true
	}
	for _, r := range roles {
		if claims.Role == r {
			return true
		}
	}
	return false
}

// CanReport reports whether claims may push telemetry for droneID.
func CanReport(claims *Claims, droneID string) bool {
	if claims == nil {
		return false
	}
	switch claims.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleDrone:
		return claims.Subject == droneID
	default:
		return false
	}
}

type ctxKey struct{}

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	v := ctx.Value(ctxKey{})
	claims, ok := v.(*Claims)
	return claims, ok
}
