package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentcli/internal/config"
	"agentcli/internal/memory"
	"agentcli/internal/session"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the user config directory and a sample config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := filepath.Join(config.UserConfigDir(), "config.env")
			created, err := config.WriteTemplate(p)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintln(cmd.OutOrStdout(), "Created", p)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Config already exists at", p)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the merged configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the user config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(config.UserConfigDir(), "config.env"))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List merged values with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{ExplicitPath: configPath})
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(cfg.Sanitize(), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <KEY>",
		Short: "Print one merged value and the source that set it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{ExplicitPath: configPath})
			if err != nil {
				return err
			}
			key := args[0]
			if _, ok := cfg.Get(key); !ok {
				return fmt.Errorf("%s is not set", key)
			}
			val := cfg.Sanitize()[strings.ToUpper(key)]
			fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s)\n", val, cfg.Source(key))
			return nil
		},
	})

	return cmd
}

func sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if cfg.SessionStore == "sqlite" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				store, err := memory.NewSQLiteStore(cfg.DBPath, newLogger(cfg.LogLevel, os.Stderr))
				if err != nil {
					return err
				}
				defer store.Close()
				recs, err := store.ListSessions(context.Background(), wd, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "Database:", cfg.DBPath)
				if len(recs) == 0 {
					fmt.Fprintln(out, "No sessions yet.")
				}
				for _, r := range recs {
					fmt.Fprintf(out, "  %s  %s  %3d messages  %s\n", r.UpdatedAt.Local().Format(time.DateTime), r.ID, r.Messages, r.Model)
				}
				return nil
			}

			store, err := session.NewStore(session.StoreConfig{Root: cfg.SessionDir, Logger: newLogger(cfg.LogLevel, os.Stderr)})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Project dir:", store.ProjectDir())
			if meta, err := store.Meta(); err == nil {
				fmt.Fprintf(out, "Created: %s  Updated: %s  Migrated: %v\n",
					meta.CreatedAt.Local().Format(time.DateTime), meta.UpdatedAt.Local().Format(time.DateTime), meta.Migrated)
			}
			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "No sessions yet.")
			}
			if limit > 0 && len(names) > limit {
				names = names[len(names)-limit:]
			}
			for _, n := range names {
				fmt.Fprintln(out, " -", n)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many sessions (newest)")
	return cmd
}
