// Package main is the entry point for the luabus script host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luabus/internal/bus"
	"github.com/dshills/luabus/internal/bus/wire"
	"github.com/dshills/luabus/internal/config"
	"github.com/dshills/luabus/internal/logging"
	"github.com/dshills/luabus/internal/luart"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Scripts = append(cfg.Scripts, opts.scripts...)

	log, cleanup, err := newLogger(cfg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	L := lua.NewState()
	defer L.Close()

	conn := bus.NewConnection(
		bus.WithMatchLimit(cfg.Bus.MatchLimit),
		bus.WithLocalName(cfg.Bus.Name),
	)
	defer conn.Close()

	exec := luart.NewExecutor(L, cfg.QueueSize)
	defer exec.Close()

	mod := luart.NewModule(L, luart.ModuleConfig{
		Conn:   conn,
		Runner: exec,
		Log:    log.WithComponent("luart"),
	})
	defer mod.Close()

	if err := mod.Register(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to register bus module: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("shutting down")
		cancel()
	}()

	var client *wire.Client
	if cfg.Bus.URL != "" {
		client = wire.NewClient(conn, exec, wire.WithLogger(log.WithComponent("wire")))
		if err := client.Dial(ctx, cfg.Bus.URL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer client.Close()
	}

	for _, script := range cfg.Scripts {
		log.Debug("running script %s", script)
		if err := L.DoFile(script); err != nil {
			fmt.Fprintf(os.Stderr, "Error: script %s: %v\n", script, err)
			return 1
		}
	}

	if mod.Registry().Len() == 0 && client == nil {
		// Nothing subscribed and no daemon to wait on.
		return 0
	}

	// The executor loop owns the Lua state from here on.
	go func() {
		if client != nil {
			<-client.Done()
			log.Warn("bus daemon connection lost")
			cancel()
		}
	}()
	exec.Run(ctx)

	return 0
}

// loadConfig reads the configuration file when one is given and falls
// back to defaults otherwise.
func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(opts.configPath)
}

// newLogger builds the root logger, returning a cleanup to close any
// log file it opened.
func newLogger(cfg *config.Config, opts options) (*logging.Logger, func(), error) {
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}

	lcfg := logging.DefaultConfig()
	lcfg.Level = logging.ParseLevel(level)
	cleanup := func() {}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lcfg.Output = f
		cleanup = func() { f.Close() }
	}
	return logging.New(lcfg), cleanup, nil
}

type options struct {
	configPath string
	logLevel   string
	scripts    []string
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "luabus - Lua script host for bus subscriptions\n\n")
		fmt.Fprintf(os.Stderr, "Usage: luabus [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  luabus handlers.lua             Run a script against a local bus\n")
		fmt.Fprintf(os.Stderr, "  luabus -c luabus.yaml           Run scripts from a config file\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("luabus %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.logLevel != "" {
		switch opts.logLevel {
		case "debug", "info", "warn", "error":
			// Valid
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
			os.Exit(1)
		}
	}

	// Remaining arguments are scripts to run
	opts.scripts = flag.Args()
	return opts
}
