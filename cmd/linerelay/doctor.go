package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"linerelay/internal/config"
	"linerelay/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your linerelay setup",
		Long: `Verifies that the configuration, credentials, delivery log, session cache
and Salesforce login work. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("linerelay doctor v%s\n", version)
			fmt.Printf("----------------------------------------\n\n")

			passed, warned, failed := 0, 0, 0

			// 1. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				fmt.Printf("\n0 passed, 1 failed\n")
				return fmt.Errorf("config invalid")
			}
			source := "defaults + environment"
			if configPath != "" {
				source = config.ExpandPath(configPath)
			}
			printPass("Config", source)
			passed++

			// 2. Salesforce credentials
			if cfg.Salesforce.HasCredentials() {
				printPass("Salesforce creds", fmt.Sprintf("%s (%s login)", cfg.Salesforce.Username, loginMethod(cfg)))
				passed++
			} else {
				printFail("Salesforce creds", "SF_USERNAME and SF_PASSWORD are required")
				failed++
			}
			if cfg.Salesforce.SecurityToken == "" && !cfg.Salesforce.UsesOAuth2() {
				printWarn("Security token", "SF_TOKEN empty; login only works from trusted IP ranges")
				warned++
			}

			// 3. LINE secrets
			if cfg.Line.ChannelSecret != "" {
				printPass("LINE secret", "configured")
				passed++
			} else {
				printFail("LINE secret", "LINE_CHANNEL_SECRET missing; every webhook will get 401")
				failed++
			}
			if cfg.Line.ReplyEnabled && cfg.Line.ChannelAccessToken == "" {
				printWarn("LINE token", "LINE_CHANNEL_ACCESS_TOKEN missing; replies will fail")
				warned++
			} else {
				printPass("LINE token", "ok")
				passed++
			}

			// 4. Delivery log
			if err := checkDeliveryLog(cfg.Delivery.DBPath); err != nil {
				printFail("Delivery log", err.Error())
				failed++
			} else {
				printPass("Delivery log", cfg.Delivery.DBPath)
				passed++
			}

			// 5. Port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 6. Session cache and login
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sessions, closeCache, err := newSessionManager(ctx, cfg, newHTTPClient(cfg))
			if err != nil {
				printFail("Session cache", err.Error())
				failed++
			} else {
				defer closeCache()
				printPass("Session cache", cfg.Session.Backend)
				passed++

				if cfg.Salesforce.HasCredentials() {
					if sess, err := sessions.EnsureSession(ctx); err != nil {
						printFail("Salesforce login", err.Error())
						failed++
					} else {
						printPass("Salesforce login", sess.InstanceURL)
						passed++
					}
				}
			}

			fmt.Printf("\n----------------------------------------\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running linerelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nlinerelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! linerelay is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDeliveryLog opens the store (running migrations) and closes it again.
func checkDeliveryLog(dbPath string) error {
	if dbPath != store.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("cannot create database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Recent(ctx, 1); err != nil {
		s.Close()
		return fmt.Errorf("not readable: %w", err)
	}
	return s.Close()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
