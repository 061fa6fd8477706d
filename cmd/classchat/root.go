package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cecil-the-coder/classroom-kit/internal/logger"
	"github.com/cecil-the-coder/classroom-kit/pkg/config"
	kithttp "github.com/cecil-the-coder/classroom-kit/pkg/http"
	"github.com/cecil-the-coder/classroom-kit/pkg/metrics"
	"github.com/cecil-the-coder/classroom-kit/pkg/session"
	"github.com/cecil-the-coder/classroom-kit/pkg/streaming"
)

// app carries the components shared by every subcommand.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath  string
	baseURL     string
	logLevel    string
	sessionFile string
	stats       bool

	cfg     *config.Config
	logger  *slog.Logger
	store   *session.Store
	client  *kithttp.Client
	auth    *session.AuthClient
	chat    *streaming.Controller
	metrics *metrics.Collector

	metricsServer *http.Server
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "classchat",
		Short: "Classroom assistant from the terminal",
		Long: `classchat signs in to the classroom platform and streams assistant answers.

Examples:
  # Sign in and check who you are
  classchat login --username alice
  classchat whoami

  # Ask about a course class with reasoning shown
  classchat chat class 12 "What is a binary heap?" --thinking

  # Ask about a bank question
  classchat chat question 301 "Why is option B wrong?"
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (YAML)")
	flags.StringVar(&a.baseURL, "base-url", "", "Backend URL (overrides config and "+config.EnvBaseURL+")")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.sessionFile, "session-file", "", "Session file; empty keeps the session in memory")
	flags.BoolVar(&a.stats, "stats", false, "Print request and stream statistics as JSON on exit")

	root.AddCommand(newLoginCmd(a), newLogoutCmd(a), newWhoamiCmd(a), newRegisterCmd(a), newChatCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, ".env")
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Backend.BaseURL = a.baseURL
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("session-file") {
		cfg.Session.File = a.sessionFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logConfig := logger.FromConfig(cfg.Logging.Level, cfg.Logging.Format)
	logConfig.Output = a.stderr
	a.logger = logger.New(logConfig)

	a.store, err = session.Open(cfg.Session.File, session.WithLogger(a.logger))
	if err != nil {
		return err
	}
	jar, err := session.NewJar(a.store)
	if err != nil {
		return err
	}

	namespace := cfg.Metrics.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}
	a.metrics = metrics.NewCollector(namespace, nil)

	clientConfig := cfg.HTTPClientConfig()
	clientConfig.Jar = jar
	clientConfig.Session = a.store
	clientConfig.Observer = a.metrics
	clientConfig.Logger = a.logger
	a.client, err = kithttp.NewClient(clientConfig)
	if err != nil {
		return err
	}

	a.auth = session.NewAuthClient(a.client, a.store, a.logger)
	a.chat = streaming.NewController(a.client,
		streaming.WithLogger(a.logger),
		streaming.WithObserver(a.metrics),
	)

	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		return a.serveMetrics(cmd.Context(), cfg.Metrics.Listen)
	}
	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(shutdownCtx)
	}
	if !a.stats || a.metrics == nil {
		return nil
	}
	enc := json.NewEncoder(a.stderr)
	enc.SetIndent("", "  ")
	return enc.Encode(a.metrics.Snapshot())
}
