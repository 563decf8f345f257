package sentinel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sentinel "github.com/gsarma/sentinel/sdk"
)

func TestClient_MeSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Write([]byte(`{"success":true,"user":{"id":"u1","email":"a@example.com","has_password":true},
			"identities":[{"provider":"google","email":"a@example.com"}]}`))
	}))
	defer srv.Close()

	p, err := sentinel.New(srv.URL, sentinel.WithToken("tok")).Me(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.User.ID != "u1" || !p.User.HasPassword || len(p.Identities) != 1 {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"success":false,"error":"cannot unlink the only authentication method, set a password first"}`))
	}))
	defer srv.Close()

	err := sentinel.New(srv.URL, sentinel.WithToken("tok")).Unlink(context.Background(), "google")
	var apiErr *sentinel.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message == "" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestClient_LinkPostsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/link/twitter" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["redirect_url"] != "https://app.example.com/settings" {
			t.Errorf("unexpected body %v", body)
		}
		w.Write([]byte(`{"success":true,"authorization_url":"https://twitter.com/i/oauth2/authorize?state=s"}`))
	}))
	defer srv.Close()

	authURL, err := sentinel.New(srv.URL, sentinel.WithToken("tok")).Link(context.Background(), "twitter", "https://app.example.com/settings")
	if err != nil {
		t.Fatal(err)
	}
	if authURL != "https://twitter.com/i/oauth2/authorize?state=s" {
		t.Errorf("unexpected authorization url %q", authURL)
	}
}

func TestClient_LoginURL(t *testing.T) {
	c := sentinel.New("https://auth.example.com/")
	got := c.LoginURL("google", "https://app.example.com/done?x=1")
	want := "https://auth.example.com/api/auth/google/login?redirect_url=https%3A%2F%2Fapp.example.com%2Fdone%3Fx%3D1"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got := c.LoginURL("google", ""); got != "https://auth.example.com/api/auth/google/login" {
		t.Errorf("unexpected url without redirect: %s", got)
	}
}
