package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "jwt-test-secret"

func authHandler(t *testing.T, gotUser, gotRole *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotUser = UserIDFromContext(r.Context())
		*gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthJWTRoundTrip(t *testing.T) {
	token, err := SignJWT(testSecret, TokenClaims{
		Sub:  "user-1",
		Role: "admin",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}

	var gotUser, gotRole string
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AuthJWT(testSecret)(authHandler(t, &gotUser, &gotRole)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser != "user-1" || gotRole != "admin" {
		t.Fatalf("claims in context = (%q, %q)", gotUser, gotRole)
	}
}

func TestAuthJWTRejectsTamperedToken(t *testing.T) {
	token, _ := SignJWT(testSecret, TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	tampered, _ := SignJWT("other-secret", TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})

	for name, value := range map[string]string{
		"wrong secret":     tampered,
		"truncated":        strings.TrimSuffix(token, token[len(token)-4:]),
		"not a jwt at all": "garbage",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+value)
		rec := httptest.NewRecorder()
		var gotUser, gotRole string
		AuthJWT(testSecret)(authHandler(t, &gotUser, &gotRole)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestAuthJWTRejectsExpiredToken(t *testing.T) {
	token, _ := SignJWT(testSecret, TokenClaims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	var gotUser, gotRole string
	AuthJWT(testSecret)(authHandler(t, &gotUser, &gotRole)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthJWTRequiresBearerHeader(t *testing.T) {
	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic dXNlcjpwYXNz",
		"no token":     "Bearer",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		var gotUser, gotRole string
		AuthJWT(testSecret)(authHandler(t, &gotUser, &gotRole)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}
