package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentcli/internal/agent"
	"agentcli/internal/browser"
	"agentcli/internal/channel"
	"agentcli/internal/config"
	"agentcli/internal/domain"
	"agentcli/internal/memory"
	"agentcli/internal/metrics"
	"agentcli/internal/provider"
	"agentcli/internal/security"
	"agentcli/internal/session"
	"agentcli/internal/tool"
)

var (
	version    = "0.3.0"
	configPath string // --config
	verbose    bool
)

func main() {
	provider.UserAgent = "agentcli/" + version
	if err := newRootCmd().Execute(); err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Terminal coding agent",
		Long:          "agent chats with a model that can read and edit files, run whitelisted commands, use git and fetch web pages inside the current directory.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runChat,
	}
	root.Flags().BoolP("version", "v", false, "show version")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.env, .json or .yaml)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "print resolved configuration and source list (no secrets)")

	root.AddCommand(initCmd())
	root.AddCommand(configCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(doctorCmd())
	return root
}

// loadConfig loads and validates the merged configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ExplicitPath: configPath})
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	for _, warn := range cfg.Warnings {
		fmt.Fprintln(w, "[warn]", warn)
	}
	if !verbose {
		return
	}
	fmt.Fprintln(w, "Config sources (in merge order):")
	for _, s := range cfg.Sources {
		fmt.Fprintln(w, " -", s)
	}
	fmt.Fprintln(w, "Key sources:")
	sources := cfg.KeySources()
	for _, k := range cfg.Keys() {
		if src, ok := sources[k]; ok {
			fmt.Fprintf(w, "  %s: %s\n", k, src)
		}
	}
	fmt.Fprintln(w, "Resolved model:", cfg.Model, "maxTokens:", cfg.MaxTokens, "provider:", cfg.Provider)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printConfigSummary(os.Stderr, cfg)
	if err := cfg.RequireAPIKey(); err != nil {
		return fmt.Errorf("cannot continue: %w. Use `agent init` or supply a config", err)
	}

	logger := newLogger(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	var store *memory.SQLiteStore
	if cfg.SessionStore == "sqlite" || cfg.AuditLog {
		store, err = memory.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return fmt.Errorf("memory store: %w", err)
		}
		defer store.Close()
	}

	bcfg := security.BoundaryConfig{Workspace: wd, Timeout: cfg.ShellTimeout, Logger: logger}
	if cfg.AuditLog {
		bcfg.Audit = store
	}
	boundary, err := security.NewBoundary(bcfg)
	if err != nil {
		return fmt.Errorf("safety boundary: %w", err)
	}

	collector := metrics.NewCollector()
	terminal := channel.NewTerminal(channel.TerminalConfig{Spinner: channel.IsTerminal(os.Stdout), Logger: logger})

	registry := tool.NewRegistry(tool.RegistryConfig{Notifier: terminal, Metrics: collector, Logger: logger})
	tcfg := tool.DefaultsConfig{Boundary: boundary}
	if cfg.FetchRenderer == "chrome" {
		bridge := browser.NewBridge(browser.BridgeConfig{Logger: logger})
		if err := bridge.Available(); err != nil {
			logger.Warn("FETCH_RENDERER=chrome but no browser found, using plain HTTP", "error", err)
		} else {
			tcfg.Renderer = bridge
		}
	}
	if err := tool.RegisterDefaults(registry, tcfg); err != nil {
		return err
	}

	gateway, err := provider.NewFactory(cfg, logger).Gateway(ctx)
	if err != nil {
		return err
	}

	sink, err := buildSink(cfg, wd, store, logger)
	if err != nil {
		logger.Warn("session persistence disabled", "error", err)
	}

	controller := agent.NewController(agent.ControllerConfig{
		Gateway:   gateway,
		Tools:     registry,
		Input:     terminal,
		Output:    terminal,
		Sink:      sink,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Metrics:   collector,
		Logger:    logger,
	})

	terminal.Banner()
	err = controller.Run(ctx)
	if verbose {
		fmt.Fprintln(os.Stderr)
		_, _ = collector.WriteTo(os.Stderr)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stdout)
		return nil
	}
	return reportFatal(terminal, err)
}

// reportedError has already been printed by the terminal.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// reportFatal shows err in the chat surface, stopping the spinner first.
func reportFatal(term *channel.Terminal, err error) error {
	if err == nil {
		return nil
	}
	term.Errorf("%v", err)
	return reportedError{err}
}

// buildSink picks the session sink for SESSION_STORE. A nil sink disables
// persistence.
func buildSink(cfg *config.Config, wd string, store *memory.SQLiteStore, logger *slog.Logger) (domain.SessionSink, error) {
	switch cfg.SessionStore {
	case "sqlite":
		return store.NewSink(wd), nil
	case "file":
		s, err := session.NewStore(session.StoreConfig{Root: cfg.SessionDir, WorkDir: wd, Logger: logger})
		if err != nil {
			return nil, err
		}
		sink, err := s.NewSink()
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, nil
	}
}
