package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGitHub serves the token endpoint and the two API calls Exchange makes.
func fakeGitHub(t *testing.T, user map[string]any, emails []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(srv *httptest.Server) *GitHubProvider {
	endpoint := oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return newGitHubProvider("client", "secret", "http://localhost/cb", endpoint, srv.URL)
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("my-client", "secret", "http://localhost:8080/auth/github/callback")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "my-client", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://localhost:8080/auth/github/callback", q.Get("redirect_uri"))
}

func TestGitHubProvider_Exchange(t *testing.T) {
	srv := fakeGitHub(t, map[string]any{"id": 42, "login": "octocat", "email": "octo@github.com"}, nil)

	ghUser, err := newTestProvider(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, int64(42), ghUser.ID)
	assert.Equal(t, "octocat", ghUser.Login)
	assert.Equal(t, "octo@github.com", ghUser.Email)
}

func TestGitHubProvider_Exchange_HiddenEmail(t *testing.T) {
	srv := fakeGitHub(t,
		map[string]any{"id": 7, "login": "private"},
		[]map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "main@example.com", "primary": true, "verified": true},
		},
	)

	ghUser, err := newTestProvider(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "main@example.com", ghUser.Email)
}

func TestGitHubProvider_Exchange_BadCode(t *testing.T) {
	srv := fakeGitHub(t, map[string]any{"id": 1}, nil)

	_, err := newTestProvider(srv).Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGitHubProvider_Exchange_ZeroID(t *testing.T) {
	srv := fakeGitHub(t, map[string]any{"login": "ghost"}, nil)

	_, err := newTestProvider(srv).Exchange(context.Background(), "good-code")
	assert.Error(t, err)
}
