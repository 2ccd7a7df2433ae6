package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentcli/internal/browser"
	"agentcli/internal/config"
	"agentcli/internal/memory"
	"agentcli/internal/provider"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agent setup",
		Long: `Verifies that configuration, API keys, the workspace, git, session
storage and the database are usable. Reports pass/fail for each check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "agent doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			cfg, err := config.Load(config.LoadOptions{ExplicitPath: configPath})
			if err != nil {
				printFail(out, "Config", err.Error())
				return fmt.Errorf("config could not be loaded")
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			r := runDoctor(ctx, out, cfg, wd)
			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

type doctorResult struct {
	passed, warned, failed int
}

func (r *doctorResult) pass(w io.Writer, check, detail string) { printPass(w, check, detail); r.passed++ }
func (r *doctorResult) warn(w io.Writer, check, detail string) { printWarn(w, check, detail); r.warned++ }
func (r *doctorResult) fail(w io.Writer, check, detail string) { printFail(w, check, detail); r.failed++ }

func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, wd string) doctorResult {
	var r doctorResult

	if err := config.Validate(cfg); err != nil {
		r.fail(w, "Config", strings.ReplaceAll(err.Error(), "\n", " "))
	} else if len(cfg.Sources) == 0 {
		r.warn(w, "Config", "no config file found, using defaults (run 'agent init')")
	} else {
		r.pass(w, "Config", strings.Join(cfg.Sources, ", "))
	}
	for _, warning := range cfg.Warnings {
		if !strings.HasPrefix(warning, "Missing") {
			r.warn(w, "Config", warning)
		}
	}

	if err := cfg.RequireAPIKey(); err != nil {
		r.fail(w, "API key", err.Error())
	} else {
		r.pass(w, "API key", "provider "+cfg.Provider)
	}

	if err := checkWritableDir(wd); err != nil {
		r.fail(w, "Workspace", err.Error())
	} else {
		r.pass(w, "Workspace", wd)
	}

	if p, err := exec.LookPath("git"); err != nil {
		r.warn(w, "git", "not found in PATH; git tools will fail")
	} else {
		r.pass(w, "git", p)
	}

	if cfg.SessionStore == "file" {
		if err := checkWritableDir(cfg.SessionDir); err != nil {
			r.fail(w, "Session dir", err.Error())
		} else {
			r.pass(w, "Session dir", cfg.SessionDir)
		}
	}

	if cfg.SessionStore == "sqlite" || cfg.AuditLog {
		if err := checkDatabase(ctx, cfg.DBPath); err != nil {
			r.fail(w, "Database", err.Error())
		} else {
			r.pass(w, "Database", cfg.DBPath)
		}
	}

	if cfg.Provider == "ollama" || slices.Contains(cfg.Failover, "ollama") {
		o := provider.NewOllama(provider.OllamaConfig{APIBase: cfg.OllamaHost})
		if err := o.Healthy(ctx); err != nil {
			r.warn(w, "Ollama", err.Error())
		} else {
			r.pass(w, "Ollama", cfg.OllamaHost)
		}
	}

	if cfg.FetchRenderer == "chrome" {
		if err := browser.NewBridge(browser.BridgeConfig{}).Available(); err != nil {
			r.warn(w, "Chrome", "not found; url_fetch falls back to plain HTTP")
		} else {
			r.pass(w, "Chrome", "available")
		}
	}
	return r
}

// checkWritableDir creates dir when missing and writes a scratch file.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".agent-doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDatabase(ctx context.Context, dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, newLogger("error", io.Discard))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-14s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-14s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-14s %s\n", check, detail)
}
