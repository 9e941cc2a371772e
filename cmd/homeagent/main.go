// homeagent - Conversational home assistant with trust-gated device control
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 homeagent contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/homeagent/pkg/bus"
	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/providers"
	"github.com/dotsetgreg/homeagent/pkg/store"
	"github.com/dotsetgreg/homeagent/pkg/workflow"
	"github.com/joho/godotenv"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const (
	appName     = "homeagent"
	cliChannel  = "cli"
	defaultUser = "local"
)

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	// A .env next to the binary's working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("HOMEAGENT_CONFIG")); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".homeagent", "config.json")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// startRuntime validates configuration and wires the engine.
func startRuntime(cfg *config.Config) (*workflow.Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	var provider providers.LLMProvider
	if providers.ActiveProviderName(cfg) != providers.ProviderNone {
		p, err := providers.CreateProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
		provider = p
	}

	rt, err := workflow.NewRuntime(cfg, provider)
	if err != nil {
		return nil, err
	}
	logger.InfoCF("cli", "Runtime started",
		map[string]interface{}{
			"provider": providers.ActiveProviderName(cfg),
			"store":    cfg.StorePath(),
			"devices":  len(cfg.Devices.Seed),
		})
	return rt, nil
}

func shutdown(rt *workflow.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		logger.WarnCF("cli", "Shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}

func runOneShot(ctx context.Context, w io.Writer, rt *workflow.Runtime, message, userID, sessionID string) error {
	res, err := rt.Engine.ProcessTurn(ctx, message, userID, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s %s\n\n", appName, res.Reply)
	fmt.Fprintf(w, "Session: %s\n", res.SessionID)
	return nil
}

// interactiveMode drives the engine through the message bus so the REPL sees
// exactly what any other channel would.
func interactiveMode(ctx context.Context, w io.Writer, rt *workflow.Runtime, userID, sessionID string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- rt.Engine.Run(ctx) }()
	defer func() {
		rt.Engine.Stop()
		cancel()
		<-loopDone
	}()

	ask := func(input string) {
		if !rt.Bus.PublishInbound(bus.InboundMessage{Channel: cliChannel, UserID: userID, SessionID: sessionID, Content: input}) {
			fmt.Fprintln(w, "Busy, message dropped. Try again.")
			return
		}
		out, ok := rt.Bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if out.Error != "" {
			logger.ErrorCF("cli", "Turn failed", map[string]interface{}{"error": out.Error})
		}
		if out.SessionID != "" {
			sessionID = out.SessionID
		}
		fmt.Fprintf(w, "\n%s %s\n\n", appName, out.Content)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".homeagent_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(w, "Error initializing readline: %v\n", err)
		fmt.Fprintln(w, "Falling back to simple input mode...")
		return simpleInteractiveMode(ctx, w, os.Stdin, ask)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(w, "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(w, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(w, "Goodbye!")
			return nil
		}
		ask(input)
	}
}

func simpleInteractiveMode(ctx context.Context, w io.Writer, in io.Reader, ask func(string)) error {
	reader := bufio.NewReader(in)
	for ctx.Err() == nil {
		fmt.Fprintf(w, "%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(w, "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(w, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(w, "Goodbye!")
			return nil
		}
		ask(input)
	}
	return nil
}

func statusCmd(ctx context.Context, w io.Writer, configPath, userID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Status\n", appName)
	fmt.Fprintf(w, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(w, "Build: %s\n", build)
	}
	fmt.Fprintln(w)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(w, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(w, "Config:", configPath, "(defaults)")
	}

	provider, configured, _, perr := providers.ProviderCredentialStatus(cfg)
	switch {
	case perr != nil:
		fmt.Fprintf(w, "Intent provider: %s (%v)\n", provider, perr)
	case provider == providers.ProviderNone:
		fmt.Fprintln(w, "Intent provider: none (keyword fallback only)")
	case configured:
		fmt.Fprintf(w, "Intent provider: %s ✓\n", provider)
	default:
		fmt.Fprintf(w, "Intent provider: %s (credentials not set)\n", provider)
	}

	dbPath := cfg.StorePath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintln(w, "Store:", dbPath, "not initialized")
		return nil
	}
	fmt.Fprintln(w, "Store:", dbPath, "✓")

	if strings.TrimSpace(userID) == "" {
		return nil
	}
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	stats, err := db.UserStats(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "User: %s\n", stats.UserID)
	if stats.HasTrust {
		fmt.Fprintf(w, "Trust: %d/100\n", stats.TrustScore)
	} else {
		fmt.Fprintf(w, "Trust: %d/100 (default)\n", cfg.Session.DefaultTrust)
	}
	fmt.Fprintf(w, "Interactions: %d\n", stats.Interactions)
	fmt.Fprintf(w, "Sessions: %d (%d messages)\n", stats.Sessions, stats.Messages)
	if !stats.LastActiveAt.IsZero() {
		fmt.Fprintf(w, "Last active: %s\n", stats.LastActiveAt.Format(time.RFC3339))
	}
	return nil
}

func devicesCmd(ctx context.Context, w io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sim := devices.NewSimulator(devices.FromSpecs(cfg.Devices.Seed))
	devs, err := sim.Status(ctx)
	if err != nil {
		return err
	}
	for _, d := range devs {
		fmt.Fprintf(w, "%-16s %-16s %-20s %s\n", d.ID, d.Class, d.Name, strings.Join(devices.SupportedCommands(d.Class), ","))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, devices.Summary(devs))
	return nil
}
