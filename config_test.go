package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/utilitywarehouse/github-proxy/proxy"
	"github.com/utilitywarehouse/github-proxy/rewrite"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("unable to write config: %v", err)
	}
	return path
}

func Test_parseConfigFile(t *testing.T) {
	path := writeConfig(t, `
token: secret
interval: 5
default_author:
  name: Proxy Bot
  email: proxy@example.com
source:
  user: upstream
  repo: project
  branches:
    - main
    - dev
destination:
  user: mirror
  repo: project
  anonymize: true
root: /var/lib/github-proxy
`)

	conf, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := proxy.Config{
		Root:         "/var/lib/github-proxy",
		Interval:     5 * time.Minute,
		CycleTimeout: defaultCycleTimeout,
		Identity:     rewrite.Identity{Name: "Proxy Bot", Email: "proxy@example.com"},
		Source:       proxy.Source{Owner: "upstream", Name: "project", Branches: []string{"main", "dev"}},
		Destination:  proxy.Destination{Owner: "mirror", Name: "project", Anonymize: true, ForcePush: true},
	}
	if diff := cmp.Diff(want, conf.proxyConfig()); diff != "" {
		t.Errorf("proxyConfig() mismatch (-want +got):\n%s", diff)
	}
	if conf.APIURL != "https://api.github.com" {
		t.Errorf("unexpected default api_url %q", conf.APIURL)
	}
}

func Test_parseConfigFile_overrides(t *testing.T) {
	path := writeConfig(t, `
token: secret
interval: 90s
cycle_timeout: 5m
api_url: https://ghe.example.com/api/v3
copy_workers: 3
default_author:
  name: Proxy Bot
  email: proxy@example.com
source:
  user: upstream
  repo: project
  branches: [main]
destination:
  user: mirror
  repo: project
  force_push: false
github_app:
  app_id: "1"
  installation_id: "2"
  private_key_path: /etc/github-proxy/key.pem
http:
  listen: ":8080"
  webhook_secret: s3cr3t
`)

	conf, err := parseConfigFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pc := conf.proxyConfig()
	if pc.Interval != 90*time.Second {
		t.Errorf("Interval = %v, want 90s", pc.Interval)
	}
	if pc.CycleTimeout != 5*time.Minute {
		t.Errorf("CycleTimeout = %v, want 5m", pc.CycleTimeout)
	}
	if pc.Destination.ForcePush {
		t.Errorf("ForcePush expected false")
	}
	if pc.Root != defaultRoot {
		t.Errorf("Root = %v, want default %v", pc.Root, defaultRoot)
	}
	if pc.CopyWorkers != 3 {
		t.Errorf("CopyWorkers = %v, want 3", pc.CopyWorkers)
	}
	if conf.APIURL != "https://ghe.example.com/api/v3" {
		t.Errorf("unexpected api_url %q", conf.APIURL)
	}
	if conf.HTTP.Listen != ":8080" || conf.HTTP.WebhookSecret != "s3cr3t" {
		t.Errorf("unexpected http config %+v", conf.HTTP)
	}
	if conf.GithubApp == nil || conf.GithubApp.InstallationID != "2" {
		t.Errorf("unexpected github_app config %+v", conf.GithubApp)
	}
}

func Test_parseConfigFile_errors(t *testing.T) {
	valid := `
token: secret
interval: 5
default_author: {name: Proxy Bot, email: proxy@example.com}
source: {user: upstream, repo: project, branches: [main]}
destination: {user: mirror, repo: project}
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unexpected top level key", valid + "foo: bar\n", "unexpected key: .foo"},
		{"unexpected source key", strings.Replace(valid, "branches: [main]", "branches: [main], branch: main", 1), "unexpected key: .source.branch"},
		{"unexpected destination key", strings.Replace(valid, "repo: project}", "repo: project, private: true}", 1), "unexpected key: .destination.private"},
		{"unexpected author key", strings.Replace(valid, "email: proxy@example.com}", "email: proxy@example.com, login: bot}", 1), "unexpected key: .default_author.login"},
		{"missing source", "token: secret\ndestination: {user: mirror, repo: project}\n", "source config section is missing"},
		{"empty branches", strings.Replace(valid, "branches: [main]", "branches: []", 1), "source branches cannot be empty"},
		{"duplicate branches", strings.Replace(valid, "branches: [main]", "branches: [main, main]", 1), "duplicate source branch"},
		{"zero interval", strings.Replace(valid, "interval: 5", "interval: 0", 1), "interval must be positive"},
		{"invalid interval", strings.Replace(valid, "interval: 5", "interval: often", 1), "invalid interval"},
		{"missing author", strings.Replace(valid, "default_author: {name: Proxy Bot, email: proxy@example.com}\n", "", 1), "default_author name and email are required"},
		{"missing token", strings.Replace(valid, "token: secret\n", "", 1), "token is required"},
		{"relative root", valid + "root: relative/path\n", "root must be an absolute path"},
		{"incomplete github app", valid + "github_app: {app_id: \"1\"}\n", "github_app requires"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfigFile(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func Test_cleanupOrphanedDirs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"src", "dest", "tmp-clone"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatalf("unable to create dir: %v", err)
		}
	}

	// not default root, nothing is removed
	cleanupOrphanedDirs(root)
	if _, err := os.Stat(filepath.Join(root, "tmp-clone")); err != nil {
		t.Errorf("expected tmp-clone to be kept: %v", err)
	}

	orig := defaultRoot
	defaultRoot = root
	defer func() { defaultRoot = orig }()

	cleanupOrphanedDirs(root)
	if _, err := os.Stat(filepath.Join(root, "tmp-clone")); !os.IsNotExist(err) {
		t.Errorf("expected tmp-clone to be removed, stat err: %v", err)
	}
	for _, dir := range []string{"src", "dest"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("expected %s to be kept: %v", dir, err)
		}
	}
}
