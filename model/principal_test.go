package model

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestPrincipalFromClaims_Service(t *testing.T) {
	p := PrincipalFromClaims(jwt.MapClaims{"token_type": "service", "sub": "svc-1"})
	if !p.IsService() {
		t.Error("token_type=service should yield a service principal")
	}
}

func TestPrincipalFromClaims_User(t *testing.T) {
	p := PrincipalFromClaims(jwt.MapClaims{"sub": "user-1", "org_id": "org-1"})
	if p.IsService() {
		t.Error("user claims should not yield a service principal")
	}
	if p.UserID != "user-1" || p.OrgID != "org-1" {
		t.Errorf("principal = %+v", p)
	}
}

func TestPrincipalFromClaims_MissingClaims(t *testing.T) {
	p := PrincipalFromClaims(jwt.MapClaims{})
	if p.IsService() {
		t.Error("empty claims should default to user principal")
	}
	if p.UserID != "" || p.OrgID != "" {
		t.Errorf("principal = %+v, want empty ids", p)
	}
}

func TestPrincipalContext(t *testing.T) {
	if PrincipalFrom(context.Background()) != nil {
		t.Error("empty context should yield nil principal")
	}

	p := &Principal{Kind: PrincipalUser, UserID: "u", OrgID: "o"}
	ctx := WithPrincipal(context.Background(), p)
	if got := PrincipalFrom(ctx); got != p {
		t.Errorf("PrincipalFrom = %+v, want %+v", got, p)
	}
}

func TestPrincipal_NilIsService(t *testing.T) {
	var p *Principal
	if p.IsService() {
		t.Error("nil principal must not report as service")
	}
}
