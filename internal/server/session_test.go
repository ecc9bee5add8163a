package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenStoreExpiry(t *testing.T) {
	ts := newTokenStore(time.Minute)
	now := time.Now()
	token := ts.issue(now)
	if token == "" {
		t.Fatal("issue returned empty token")
	}
	if !ts.valid(token, now.Add(30*time.Second), false) {
		t.Error("token invalid before expiry")
	}
	if ts.valid(token, now.Add(2*time.Minute), false) {
		t.Error("token valid after expiry")
	}
	if _, ok := ts.expiry[token]; ok {
		t.Error("expired token not removed")
	}
}

func TestCSRFTokenSingleUse(t *testing.T) {
	sm := NewSessionManager()
	token := sm.CreateCSRFToken()
	if !sm.ValidateCSRFToken(token) {
		t.Fatal("fresh CSRF token rejected")
	}
	if sm.ValidateCSRFToken(token) {
		t.Error("CSRF token accepted twice")
	}
	if sm.ValidateCSRFToken("") {
		t.Error("empty CSRF token accepted")
	}
}

func TestLoginAndLogout(t *testing.T) {
	sm := NewSessionManager()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)

	if sm.Login(httptest.NewRecorder(), r, "admin", "wrong", "admin", "secret") {
		t.Fatal("login with wrong password succeeded")
	}

	rec := httptest.NewRecorder()
	if !sm.Login(rec, r, "admin", "secret", "admin", "secret") {
		t.Fatal("login failed")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName {
		t.Fatalf("cookies = %v", cookies)
	}

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.AddCookie(cookies[0])
	if !sm.hasSession(authed) {
		t.Fatal("session not recognized")
	}

	sm.Logout(httptest.NewRecorder(), authed)
	if sm.hasSession(authed) {
		t.Error("session survived logout")
	}
}

func TestAuthMiddlewareRedirects(t *testing.T) {
	sm := NewSessionManager()
	called := false
	h := sm.AuthMiddleware()(func(http.ResponseWriter, *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if called {
		t.Error("handler ran without a session")
	}
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("got %d to %q, want redirect to /login", rec.Code, rec.Header().Get("Location"))
	}
}
