// Package main provides the cortex binary entry point. Cortex is a
// multi-agent orchestration runtime: a chief-of-staff coordinator triages
// goals, delegates to specialist agents over NATS, and supervises the
// resulting delegations against their deadlines.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbhq-uk/cortex/config"
	"github.com/dbhq-uk/cortex/message"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cortex"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		goal       string
		authority  string
	)

	cmd := &cobra.Command{
		Use:   "cortex",
		Short: "Multi-agent orchestration runtime",
		Long: `Cortex runs a fleet of autonomous agents behind a chief-of-staff
coordinator.

Inbound goals are decomposed into capability-addressed sub-tasks, delegated
to specialist agents over NATS work queues, tracked under CTX reference
codes, and supervised against their deadlines. Plans proposed under
ask-me-first authority wait for human approval before anything dispatches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel, goal, authority)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&goal, "goal", "", "Goal to submit to the coordinator on startup")
	cmd.Flags().StringVar(&authority, "authority", "doItAndShowMe",
		"Authority tier for the submitted goal (askMeFirst, doItAndShowMe, justDoIt)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel, goal, authority string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		return err
	}

	if goal != "" {
		var tier message.AuthorityTier
		if err := tier.UnmarshalText([]byte(authority)); err != nil {
			app.Shutdown(context.Background())
			return err
		}
		code, err := app.SubmitGoal(ctx, goal, tier)
		if err != nil {
			app.Shutdown(context.Background())
			return err
		}
		logger.Info("goal submitted", "reference_code", code)
	}

	// Run until interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	app.Shutdown(shutdownCtx)
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
