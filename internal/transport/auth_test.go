package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/registerlabs/ledgerflow/internal/config"
	"github.com/registerlabs/ledgerflow/model"
)

const testSecret = "test-signing-secret"

func identityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://issuer.local",
		Audience:   "ledgerflow",
		Algorithms: []string{"HS256"},
		SigningKey: "TEST_JWT_KEY",
	}
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = "https://issuer.local"
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = "ledgerflow"
	}
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

// principalEcho records the principal the middleware attached.
func principalEcho(captured **model.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = model.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	t.Setenv("TEST_JWT_KEY", testSecret)
	a, err := NewAuthenticator(identityConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	var p *model.Principal
	w := httptest.NewRecorder()
	a.Middleware(principalEcho(&p)).ServeHTTP(w, httptest.NewRequest("GET", "/v1/instances/i", nil))

	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if p != nil {
		t.Error("handler should not have run")
	}
}

func TestAuthMiddleware_UserToken(t *testing.T) {
	t.Setenv("TEST_JWT_KEY", testSecret)
	a, err := NewAuthenticator(identityConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	tok := signedToken(t, jwt.MapClaims{"sub": "user-1", "org_id": "org-1"})
	req := httptest.NewRequest("GET", "/v1/instances/i", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	var p *model.Principal
	w := httptest.NewRecorder()
	a.Middleware(principalEcho(&p)).ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if p == nil || p.UserID != "user-1" || p.OrgID != "org-1" {
		t.Errorf("principal = %+v", p)
	}
	if p.IsService() {
		t.Error("user token must not yield a service principal")
	}
}

func TestAuthMiddleware_ServiceToken(t *testing.T) {
	t.Setenv("TEST_JWT_KEY", testSecret)
	a, err := NewAuthenticator(identityConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	tok := signedToken(t, jwt.MapClaims{"token_type": "service"})
	req := httptest.NewRequest("POST", "/v1/instances", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	var p *model.Principal
	w := httptest.NewRecorder()
	a.Middleware(principalEcho(&p)).ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if !p.IsService() {
		t.Errorf("principal = %+v, want service", p)
	}
}

func TestAuthMiddleware_BadSignature(t *testing.T) {
	t.Setenv("TEST_JWT_KEY", testSecret)
	a, err := NewAuthenticator(identityConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	claims := jwt.MapClaims{"sub": "user-1", "iss": "https://issuer.local", "aud": "ledgerflow",
		"exp": time.Now().Add(time.Hour).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/instances/i", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := httptest.NewRecorder()
	a.Middleware(http.NotFoundHandler()).ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongIssuer(t *testing.T) {
	t.Setenv("TEST_JWT_KEY", testSecret)
	a, err := NewAuthenticator(identityConfig())
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	tok := signedToken(t, jwt.MapClaims{"sub": "user-1", "iss": "https://evil.local"})
	req := httptest.NewRequest("GET", "/v1/instances/i", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := httptest.NewRecorder()
	a.Middleware(http.NotFoundHandler()).ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_NoKeyConfigured(t *testing.T) {
	// Without a verification key the middleware still extracts the principal
	// from the (unverified) token.
	cfg := identityConfig()
	cfg.SigningKey = "TEST_JWT_KEY_UNSET"
	a, err := NewAuthenticator(cfg)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	tok := signedToken(t, jwt.MapClaims{"sub": "user-1", "org_id": "org-1"})
	req := httptest.NewRequest("GET", "/v1/instances/i", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	var p *model.Principal
	w := httptest.NewRecorder()
	a.Middleware(principalEcho(&p)).ServeHTTP(w, req)

	if w.Code != 204 {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if p == nil || p.UserID != "user-1" {
		t.Errorf("principal = %+v", p)
	}
}
