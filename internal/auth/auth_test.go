package auth

import (
	"errors"
	"testing"
	"time"

	"agrosentry/internal/domain"
)

func TestIssueAndAuthenticate(t *testing.T) {
	a := New("secret", time.Minute)
	token, exp, err := a.IssueToken("d1", domain.RoleDrone)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := a.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "d1" || claims.Role != domain.RoleDrone {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !CanReport(claims, "d1") || CanReport(claims, "d2") {
		t.Fatal("drone token must only report for its own id")
	}
	if Allow(claims, domain.RoleOperator) {
		t.Fatal("drone must not act as operator")
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a := New("secret", time.Minute)
	if _, err := a.Authenticate(""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	other := New("other", time.Minute)
	token, _, _ := other.IssueToken("ops", domain.RoleOperator)
	if _, err := a.Authenticate("Bearer " + token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for foreign signature, got %v", err)
	}
	if _, _, err := a.IssueToken("x", "pilot"); !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected invalid role error, got %v", err)
	}
}

func TestAdminAllowedEverywhere(t *testing.T) {
	claims := &Claims{Role: domain.RoleAdmin}
	if !Allow(claims, domain.RoleOperator) || !CanReport(claims, "any") {
		t.Fatal("admin should be allowed")
	}
	if Allow(nil, domain.RoleOperator) {
		t.Fatal("nil claims must be denied")
	}
}
