package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

func fakeJWT(t *testing.T, sub string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"` + sub + `"}`))
	return header + "." + payload + ".sig"
}

func TestBuildCookieHeader(t *testing.T) {
	token := fakeJWT(t, "auth0|user_01HXAMPLE")

	header, ok := BuildCookieHeader(token)
	if !ok {
		t.Fatal("BuildCookieHeader failed on a valid token")
	}
	if !strings.HasPrefix(header, CookieName+"=") {
		t.Errorf("header %q missing cookie name", header)
	}
	if !strings.Contains(header, "user_01HXAMPLE%3A%3A") {
		t.Errorf("header %q missing escaped user/token separator", header)
	}
	if strings.Contains(header, "auth0") {
		t.Errorf("header %q should carry only the trailing user ID", header)
	}
}

func TestBuildCookieHeader_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-jwt",
		"a.b",
		"a." + base64.RawURLEncoding.EncodeToString([]byte(`{}`)) + ".c", // no sub
		"a.!!!.c", // undecodable payload
	}
	for _, token := range cases {
		if _, ok := BuildCookieHeader(token); ok {
			t.Errorf("BuildCookieHeader(%q) should fail", token)
		}
	}
}

func TestStateDBSource_MissingDB(t *testing.T) {
	src := &StateDBSource{Path: t.TempDir() + "/absent.vscdb"}
	if _, ok := src.SessionHeader(context.Background()); ok {
		t.Fatal("SessionHeader should report absent when the state DB is missing")
	}
}
