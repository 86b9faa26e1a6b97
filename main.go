package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"github.com/utilitywarehouse/github-proxy/github"
	"github.com/utilitywarehouse/github-proxy/proxy"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("GITHUB_PROXY_CONFIG"),
			Value:   "/etc/github-proxy/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.BoolFlag{
			Name:    "once",
			Sources: cli.EnvVars("GITHUB_PROXY_ONCE"),
			Usage:   "Run a single cycle and exit.",
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:  "github-proxy",
		Usage: "github-proxy periodically mirrors branches of a repository into another one, optionally anonymizing its history.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			conf, err := parseConfigFile(c.String("config"))
			if err != nil {
				logger.Error("unable to parse config file", "err", err)
				os.Exit(1)
			}

			cleanupOrphanedDirs(conf.Root)

			proxy.EnableMetrics("github_proxy", prometheus.DefaultRegisterer)

			host, err := github.NewClient(conf.APIURL, conf.Token, nil)
			if err != nil {
				logger.Error("could not create github client", "err", err)
				os.Exit(1)
			}

			p, err := proxy.New(conf.proxyConfig(), proxy.Deps{
				Host:        host,
				Credentials: conf.credentials(),
				Log:         logger.With("logger", "github-proxy"),
			})
			if err != nil {
				logger.Error("could not create proxy", "err", err)
				os.Exit(1)
			}
			defer p.Close()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			startCtx, cancel := context.WithTimeout(ctx, conf.CycleTimeout)
			err = p.Start(startCtx)
			cancel()
			if err != nil {
				logger.Error("unable to start proxy", "err", err)
				os.Exit(1)
			}

			if c.Bool("once") {
				cycleCtx, cancel := context.WithTimeout(ctx, conf.CycleTimeout)
				defer cancel()
				return p.RunCycle(cycleCtx)
			}

			server := startHTTPServer(conf, p)

			// blocks until ctx is cancelled and running cycle is done
			p.Loop(ctx)
			logger.Info("Shutting down")

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("unable to shutdown http server", "err", err)
				}
			}

			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

// startHTTPServer serves metrics, health and webhook endpoints if listen
// address is configured
func startHTTPServer(conf *Config, p *proxy.Proxy) *http.Server {
	if conf.HTTP.Listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(p.State().String()))
	})
	if conf.HTTP.WebhookSecret != "" {
		mux.Handle("/github-webhook", &GithubWebhookHandler{
			proxy:    p,
			owner:    conf.Source.User,
			repo:     conf.Source.Repo,
			branches: conf.Source.Branches,
			secret:   conf.HTTP.WebhookSecret,
			log:      logger.With("logger", "github-webhook"),
		})
	}

	server := &http.Server{
		Addr:              conf.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server terminated", "err", err)
		}
	}()

	return server
}
