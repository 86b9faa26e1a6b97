// Package github resolves the authenticated user and repositories on the
// GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v48/github"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://api.github.com"

var (
	ErrUnauthorized = errors.New("github: credentials rejected")
	ErrNotFound     = errors.New("github: not found")
)

type User struct {
	Login string
	Name  string
	ID    int64
}

type Repository struct {
	ID            int64
	Name          string
	FullName      string
	CloneURL      string
	DefaultBranch string
	Private       bool
	Owner         User
}

// Client talks to the GitHub REST API with a personal access token.
type Client struct {
	gh *gh.Client
}

// NewClient returns a client for the API at baseURL (DefaultBaseURL if empty).
// If httpClient is nil a client with a 30s timeout is used. Requests carry
// token as bearer token unless it's empty.
func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		))
	}

	client := gh.NewClient(httpClient)

	if baseURL != "" && strings.TrimRight(baseURL, "/") != DefaultBaseURL {
		// BaseURL must have trailing slash
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api url %q: %w", baseURL, err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client}, nil
}

// CurrentUser returns the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	u, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, mapErr("get current user", resp, err)
	}
	return &User{
		Login: u.GetLogin(),
		Name:  u.GetName(),
		ID:    u.GetID(),
	}, nil
}

// Repository looks up owner/name repository.
func (c *Client) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, mapErr("get repository "+owner+"/"+name, resp, err)
	}
	return &Repository{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		Owner: User{
			Login: r.GetOwner().GetLogin(),
			Name:  r.GetOwner().GetName(),
			ID:    r.GetOwner().GetID(),
		},
	}, nil
}

// mapErr wraps err with ErrUnauthorized or ErrNotFound based on the response
// status. rate limit errors are reported with 403 and count as unauthorized.
func mapErr(msg string, resp *gh.Response, err error) error {
	status := 0
	var errResp *gh.ErrorResponse
	switch {
	case errors.As(err, &errResp) && errResp.Response != nil:
		status = errResp.Response.StatusCode
	case resp != nil && resp.Response != nil:
		status = resp.StatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w", msg, ErrUnauthorized, err)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
