// Package auth supplies git transport credentials for remote operations.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/utilitywarehouse/github-proxy/giturl"
	"github.com/utilitywarehouse/github-proxy/internal/lock"
)

// tokens are refreshed when they expire within this window
const tokenRefreshWindow = 10 * time.Minute

var ErrNoCredentials = errors.New("no credentials configured")

// Provider returns the auth method to use for a remote operation against the
// given url. A nil method with nil error means the remote needs no credentials.
// It is consulted once per remote operation.
type Provider interface {
	Method(ctx context.Context, remoteURL string) (transport.AuthMethod, error)
}

// TokenProvider authenticates https remotes with a static token sent as basic
// auth password.
type TokenProvider struct {
	Username string
	Token    string

	mu lock.Mutex
}

func NewTokenProvider(username, token string) *TokenProvider {
	return &TokenProvider{Username: username, Token: token}
}

// SetUsername sets the basic auth username, usually the login of the token
// owner which is only known after the host API was called.
func (p *TokenProvider) SetUsername(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Username = username
}

func (p *TokenProvider) Method(_ context.Context, remoteURL string) (transport.AuthMethod, error) {
	// if url not https nothing to set
	if !giturl.IsHTTPSURL(giturl.NormaliseURL(remoteURL)) {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Token == "" {
		return nil, ErrNoCredentials
	}
	username := p.Username
	if username == "" {
		username = "-" // username is required
	}
	return &http.BasicAuth{Username: username, Password: p.Token}, nil
}

// GithubAppProvider authenticates https github remotes with installation
// access tokens. Tokens are cached per repository and refreshed shortly
// before they expire.
type GithubAppProvider struct {
	app *GithubApp
	log *slog.Logger

	mu     lock.Mutex
	tokens map[string]*GithubAppToken
	// now is swapped in tests
	now func() time.Time
}

func NewGithubAppProvider(app *GithubApp, log *slog.Logger) *GithubAppProvider {
	if log == nil {
		log = slog.Default()
	}
	return &GithubAppProvider{
		app:    app,
		log:    log,
		tokens: make(map[string]*GithubAppToken),
		now:    time.Now,
	}
}

func (p *GithubAppProvider) Method(ctx context.Context, remoteURL string) (transport.AuthMethod, error) {
	remoteURL = giturl.NormaliseURL(remoteURL)
	if !giturl.IsHTTPSURL(remoteURL) {
		return nil, nil
	}

	gitURL, err := giturl.Parse(remoteURL)
	if err != nil {
		return nil, err
	}

	token, err := p.token(ctx, gitURL)
	if err != nil {
		return nil, fmt.Errorf("unable to get github app token: %w", err)
	}
	return &http.BasicAuth{Username: "-", Password: token}, nil
}

// token returns installation token scoped to the repository of the url,
// cached per owner/repo
func (p *GithubAppProvider) token(ctx context.Context, gitURL *giturl.URL) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := gitURL.FullName()

	// return token if current token is valid for next 10 min
	if t, ok := p.tokens[key]; ok && t.ExpiresAt.After(p.now().UTC().Add(tokenRefreshWindow)) {
		return t.Token, nil
	}

	permissions := GithubAppTokenReqPermissions{
		// github matches repo name without `.git` for permission for token req
		Repositories: []string{gitURL.RepoName()},
		// destination is pushed to with the same credentials
		Permissions: map[string]string{"contents": "write"},
	}

	token, err := p.app.InstallationToken(ctx, permissions)
	if err != nil {
		return "", err
	}
	p.tokens[key] = token

	p.log.Debug("new github app access token created", "repo", key)

	return token.Token, nil
}
