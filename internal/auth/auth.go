// Package auth builds the session cookie header for the remote usage
// export from credentials the editor already keeps in its state DB.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/url"
	"strings"

	"github.com/usagelens/cursorusage/internal/store"
)

const (
	accessTokenKey = "cursorAuth/accessToken"

	// CookieName is the session cookie the dashboard export expects.
	CookieName = "WorkosCursorSessionToken"
)

// HeaderSource yields an optional Cookie header value for the remote
// fetch. ok=false disables enrichment for that cycle.
type HeaderSource interface {
	SessionHeader(ctx context.Context) (string, bool)
}

// StateDBSource reads the access token from the editor's global state
// DB on every call, so a re-login is picked up without a restart.
type StateDBSource struct {
	Path string // path to the global state.vscdb
}

func (s *StateDBSource) SessionHeader(ctx context.Context) (string, bool) {
	db, err := store.Open(s.Path, store.Snapshot)
	if err != nil {
		log.Printf("[auth] state DB unavailable: %v", err)
		return "", false
	}
	defer db.Close()

	token, ok := db.GetItem(ctx, accessTokenKey)
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return BuildCookieHeader(token)
}

// BuildCookieHeader derives the user ID from the token's JWT subject
// claim and assembles the "name=user%3A%3Atoken" cookie value. No
// signature verification happens here; the remote end does that.
func BuildCookieHeader(token string) (string, bool) {
	userID, ok := subjectUserID(token)
	if !ok {
		return "", false
	}
	return CookieName + "=" + url.QueryEscape(userID+"::"+token), true
}

func subjectUserID(token string) (string, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	var claims struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}
	sub := strings.TrimSpace(claims.Sub)
	if sub == "" {
		return "", false
	}
	// Subjects look like "auth0|user_01...": the cookie wants only the
	// trailing user ID.
	if i := strings.LastIndex(sub, "|"); i >= 0 {
		sub = sub[i+1:]
	}
	if sub == "" {
		return "", false
	}
	return sub, true
}
