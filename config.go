package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/utilitywarehouse/github-proxy/auth"
	"github.com/utilitywarehouse/github-proxy/github"
	"github.com/utilitywarehouse/github-proxy/proxy"
	"github.com/utilitywarehouse/github-proxy/rewrite"
	"gopkg.in/yaml.v3"
)

const (
	defaultCycleTimeout = 30 * time.Minute
	defaultForcePush    = true
)

var defaultRoot = filepath.Join(xdg.CacheHome, "github-proxy")

type Config struct {
	// Token is used for host API calls and as git password
	Token string `yaml:"token"`

	// Interval between cycles, bare integer is number of minutes
	Interval Interval `yaml:"interval"`

	DefaultAuthor AuthorConfig      `yaml:"default_author"`
	Source        SourceConfig      `yaml:"source"`
	Destination   DestinationConfig `yaml:"destination"`

	// Root is the dir holding source and destination working copies
	Root string `yaml:"root"`

	// CycleTimeout bounds remote operations of a single cycle
	CycleTimeout time.Duration `yaml:"cycle_timeout"`

	// APIURL of the GitHub REST API
	APIURL string `yaml:"api_url"`

	// CopyWorkers is number of concurrent copies while mirroring working tree
	CopyWorkers int `yaml:"copy_workers"`

	// GithubApp if set git credentials are installation tokens of the app
	GithubApp *GithubAppConfig `yaml:"github_app"`

	HTTP HTTPConfig `yaml:"http"`
}

type AuthorConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type SourceConfig struct {
	User     string   `yaml:"user"`
	Repo     string   `yaml:"repo"`
	Branches []string `yaml:"branches"`
}

type DestinationConfig struct {
	User      string `yaml:"user"`
	Repo      string `yaml:"repo"`
	Anonymize bool   `yaml:"anonymize"`
	ForcePush *bool  `yaml:"force_push"`
}

type GithubAppConfig struct {
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type HTTPConfig struct {
	// Listen address of the metrics and webhook server, server is not started
	// if empty
	Listen        string `yaml:"listen"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Interval accepts both number of minutes and duration string
type Interval time.Duration

func (i *Interval) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: interval must be a number of minutes or a duration", value.Line)
	}
	if value.ShortTag() == "!!int" {
		minutes, err := strconv.ParseInt(value.Value, 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid interval: %w", value.Line, err)
		}
		*i = Interval(time.Duration(minutes) * time.Minute)
		return nil
	}
	d, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid interval: %w", value.Line, err)
	}
	*i = Interval(d)
	return nil
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = validateConfig(yamlFile)
	if err != nil {
		return nil, err
	}

	conf := &Config{}
	err = yaml.Unmarshal(yamlFile, conf)
	if err != nil {
		return nil, err
	}

	applyDefaults(conf)

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// validateConfig checks config sections for unexpected keys
func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// source and destination sections are mandatory
	for _, section := range []string{"source", "destination"} {
		if _, ok := raw[section]; !ok {
			return fmt.Errorf("%s config section is missing", section)
		}
	}

	if key := findUnexpectedKey(raw, getAllowedKeys(Config{})); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	sections := map[string]interface{}{
		"default_author": AuthorConfig{},
		"source":         SourceConfig{},
		"destination":    DestinationConfig{},
		"github_app":     GithubAppConfig{},
		"http":           HTTPConfig{},
	}
	for name, config := range sections {
		value, ok := raw[name]
		if !ok || value == nil {
			continue
		}
		sectionMap, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s config section is not valid", name)
		}
		if key := findUnexpectedKey(sectionMap, getAllowedKeys(config)); key != "" {
			return fmt.Errorf("unexpected key: .%s.%v", name, key)
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw interface{}, allowedKeys []string) string {
	for key := range raw.(map[string]interface{}) {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}

func applyDefaults(conf *Config) {
	if conf.Root == "" {
		conf.Root = defaultRoot
	}

	if conf.CycleTimeout == 0 {
		conf.CycleTimeout = defaultCycleTimeout
	}

	if conf.APIURL == "" {
		conf.APIURL = github.DefaultBaseURL
	}

	if conf.Destination.ForcePush == nil {
		forcePush := defaultForcePush
		conf.Destination.ForcePush = &forcePush
	}
}

func (conf *Config) validate() error {
	var errs []error

	if conf.Token == "" {
		errs = append(errs, fmt.Errorf("token is required"))
	}
	if conf.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive"))
	}
	if conf.DefaultAuthor.Name == "" || conf.DefaultAuthor.Email == "" {
		errs = append(errs, fmt.Errorf("default_author name and email are required"))
	}
	if conf.Source.User == "" || conf.Source.Repo == "" {
		errs = append(errs, fmt.Errorf("source user and repo are required"))
	}
	if len(conf.Source.Branches) == 0 {
		errs = append(errs, fmt.Errorf("source branches cannot be empty"))
	}
	for i, b := range conf.Source.Branches {
		if slices.Contains(conf.Source.Branches[:i], b) {
			errs = append(errs, fmt.Errorf("duplicate source branch %q", b))
		}
	}
	if conf.Destination.User == "" || conf.Destination.Repo == "" {
		errs = append(errs, fmt.Errorf("destination user and repo are required"))
	}
	if !filepath.IsAbs(conf.Root) {
		errs = append(errs, fmt.Errorf("root must be an absolute path"))
	}
	if conf.CycleTimeout < 0 {
		errs = append(errs, fmt.Errorf("cycle_timeout cannot be negative"))
	}
	if app := conf.GithubApp; app != nil {
		if app.AppID == "" || app.InstallationID == "" || app.PrivateKeyPath == "" {
			errs = append(errs, fmt.Errorf("github_app requires app_id, installation_id and private_key_path"))
		}
	}
	if conf.HTTP.WebhookSecret != "" && conf.HTTP.Listen == "" {
		errs = append(errs, fmt.Errorf("http.webhook_secret is set but http.listen is empty"))
	}

	return errors.Join(errs...)
}

func (conf *Config) proxyConfig() proxy.Config {
	return proxy.Config{
		Root:         conf.Root,
		Interval:     time.Duration(conf.Interval),
		CycleTimeout: conf.CycleTimeout,
		Identity: rewrite.Identity{
			Name:  conf.DefaultAuthor.Name,
			Email: conf.DefaultAuthor.Email,
		},
		Source: proxy.Source{
			Owner:    conf.Source.User,
			Name:     conf.Source.Repo,
			Branches: conf.Source.Branches,
		},
		Destination: proxy.Destination{
			Owner:     conf.Destination.User,
			Name:      conf.Destination.Repo,
			Anonymize: conf.Destination.Anonymize,
			ForcePush: *conf.Destination.ForcePush,
		},
		CopyWorkers: conf.CopyWorkers,
	}
}

// credentials returns git credential provider for the config
func (conf *Config) credentials() auth.Provider {
	if conf.GithubApp != nil {
		return auth.NewGithubAppProvider(&auth.GithubApp{
			AppID:          conf.GithubApp.AppID,
			InstallationID: conf.GithubApp.InstallationID,
			PrivateKeyPath: conf.GithubApp.PrivateKeyPath,
			APIURL:         conf.APIURL,
		}, logger.With("logger", "github-app"))
	}
	return auth.NewTokenProvider("", conf.Token)
}
