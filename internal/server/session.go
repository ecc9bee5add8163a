package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "camswitch_session"
	sessionDuration   = 24 * time.Hour
	csrfTokenDuration = 10 * time.Minute
	sweepEvery        = 16 // issues between expiry sweeps
)

// tokenStore holds random tokens with an expiry time.
type tokenStore struct {
	ttl    time.Duration
	issued int
	expiry map[string]time.Time
}

func newTokenStore(ttl time.Duration) *tokenStore {
	return &tokenStore{ttl: ttl, expiry: make(map[string]time.Time)}
}

func (ts *tokenStore) issue(now time.Time) string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	ts.issued++
	if ts.issued%sweepEvery == 0 {
		maps.DeleteFunc(ts.expiry, func(_ string, exp time.Time) bool { return now.After(exp) })
	}
	token := hex.EncodeToString(b)
	ts.expiry[token] = now.Add(ts.ttl)
	return token
}

// valid reports whether token exists and has not expired. Expired tokens
// are removed; consume also removes a valid one.
func (ts *tokenStore) valid(token string, now time.Time, consume bool) bool {
	exp, ok := ts.expiry[token]
	if !ok {
		return false
	}
	if consume || now.After(exp) {
		delete(ts.expiry, token)
	}
	return !now.After(exp)
}

// SessionManager tracks logged in panel sessions and single-use CSRF
// tokens for the login form. It is safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions *tokenStore
	csrf     *tokenStore
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: newTokenStore(sessionDuration),
		csrf:     newTokenStore(csrfTokenDuration),
	}
}

// Create starts a session and returns its token, or "" when no random
// token could be generated.
func (sm *SessionManager) Create() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions.issue(time.Now())
}

// Validate reports whether a session token is valid.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions.valid(token, time.Now(), false)
}

// Delete ends a session.
func (sm *SessionManager) Delete(token string) {
	sm.mu.Lock()
	delete(sm.sessions.expiry, token)
	sm.mu.Unlock()
}

// CreateCSRFToken returns a new single-use token for the login form.
func (sm *SessionManager) CreateCSRFToken() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.csrf.issue(time.Now())
}

// ValidateCSRFToken reports whether token is valid and consumes it.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.csrf.valid(token, time.Now(), true)
}

// AuthMiddleware redirects requests without a session to /login.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !sm.hasSession(r) {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			next(w, r)
		}
	}
}

// APIMiddleware guards the JSON API. A session cookie or HTTP basic
// credentials matching credentials() are accepted; anything else gets 401.
func (sm *SessionManager) APIMiddleware(credentials func() (user, pass string)) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if sm.hasSession(r) || sm.hasBasicAuth(r, credentials) {
				next(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="camswitch"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
}

func (sm *SessionManager) hasSession(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	return err == nil && sm.Validate(cookie.Value)
}

func (sm *SessionManager) hasBasicAuth(r *http.Request, credentials func() (string, string)) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	wantUser, wantPass := credentials()
	return credentialsMatch(user, pass, wantUser, wantPass)
}

func credentialsMatch(user, pass, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) == 1
	return userOK && passOK
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Login checks the submitted credentials and sets a session cookie when
// they match.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, user, pass, wantUser, wantPass string) bool {
	if !credentialsMatch(user, pass, wantUser, wantPass) {
		return false
	}
	token := sm.Create()
	if token == "" {
		return false
	}
	setSessionCookie(w, r, token, int(sessionDuration.Seconds()))
	return true
}

// Logout ends the session in the request, if any, and clears the cookie.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}
