package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-cmp/cmp"
)

func TestTokenProvider_Method(t *testing.T) {
	tests := []struct {
		name     string
		provider *TokenProvider
		url      string
		want     transport.AuthMethod
		wantErr  bool
	}{
		{"https", NewTokenProvider("", "secret"), "https://github.com/org/repo.git",
			&githttp.BasicAuth{Username: "-", Password: "secret"}, false},
		{"https_with_user", NewTokenProvider("robot", "secret"), "https://github.com/org/repo.git",
			&githttp.BasicAuth{Username: "robot", Password: "secret"}, false},
		{"local_path", NewTokenProvider("", "secret"), "/tmp/org/repo", nil, false},
		{"scp", NewTokenProvider("", "secret"), "git@github.com:org/repo.git", nil, false},
		{"missing_token", NewTokenProvider("", ""), "https://github.com/org/repo.git", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.provider.Method(t.Context(), tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Method() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Method() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenProvider_SetUsername(t *testing.T) {
	p := NewTokenProvider("", "secret")
	p.SetUsername("octocat")

	got, err := p.Method(t.Context(), "https://github.com/org/repo.git")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &githttp.BasicAuth{Username: "octocat", Password: "secret"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Method() mismatch (-want +got):\n%s", diff)
	}
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unable to generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("unable to write key: %v", err)
	}
	return path
}

func TestGithubAppProvider_Method(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/app/installations/42/access_tokens" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing bearer token")
		}
		var perms GithubAppTokenReqPermissions
		if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
			t.Errorf("unable to decode request: %v", err)
		}
		if diff := cmp.Diff([]string{"repo"}, perms.Repositories); diff != "" {
			t.Errorf("repositories mismatch (-want +got):\n%s", diff)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(GithubAppToken{
			Token:     "installation-token",
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}))
	defer server.Close()

	p := NewGithubAppProvider(&GithubApp{
		AppID:          "1",
		InstallationID: "42",
		PrivateKeyPath: writeTestKey(t),
		APIURL:         server.URL,
	}, nil)

	for range 2 {
		got, err := p.Method(t.Context(), "https://github.com/org/repo.git")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := &githttp.BasicAuth{Username: "-", Password: "installation-token"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Method() mismatch (-want +got):\n%s", diff)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected cached token to be reused, token requests = %d", got)
	}

	// same repo name under another owner gets its own token
	if _, err := p.Method(t.Context(), "https://github.com/other/repo.git"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected new token for other owner, token requests = %d", got)
	}

	// expiring token is refreshed
	p.now = func() time.Time { return time.Now().Add(55 * time.Minute) }
	if _, err := p.Method(t.Context(), "https://github.com/org/repo.git"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected token refresh, token requests = %d", got)
	}

	// non https remotes need no token
	if got, err := p.Method(t.Context(), "git@github.com:org/repo.git"); err != nil || got != nil {
		t.Errorf("expected no auth for scp url, got %v err %v", got, err)
	}
}

func TestGithubAppProvider_errorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	p := NewGithubAppProvider(&GithubApp{
		AppID:          "1",
		InstallationID: "42",
		PrivateKeyPath: writeTestKey(t),
		APIURL:         server.URL,
	}, nil)

	if _, err := p.Method(t.Context(), "https://github.com/org/repo.git"); err == nil {
		t.Errorf("expected error for rejected token request")
	}
}
