package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/plugin-runtime/config"
	"github.com/wippyai/plugin-runtime/examples/mathplugin"
	"github.com/wippyai/plugin-runtime/examples/tickermod"
	"github.com/wippyai/plugin-runtime/loader/goloader"
	"github.com/wippyai/plugin-runtime/loader/memloader"
	"github.com/wippyai/plugin-runtime/loader/wasmloader"
	"github.com/wippyai/plugin-runtime/micro"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to TOML host configuration")
		paths       = flag.String("plugins", "", "Module search paths (colon-delimited)")
		loaderName  = flag.String("loader", "", "Module loader: memory, native or wasm")
		preload     = flag.String("load", "", "Modules to load at startup (comma-separated)")
		maxIdle     = flag.Int("max-idle", -1, "Idle eviction threshold in minutes, 0 disables")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *paths != "" {
		cfg.Paths = strings.Split(*paths, ":")
	}
	if *loaderName != "" {
		cfg.Loader = *loaderName
	}
	if *preload != "" {
		cfg.Preload = strings.Split(*preload, ",")
	}
	if *maxIdle >= 0 {
		cfg.MaxIdle = *maxIdle
	}

	code, err := run(cfg, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if code != 0 {
		os.Exit(code)
	}
}

// run returns the kernel's final error code once the host shuts down. The
// caller exits with it after deferred cleanup (the log flush above all) has
// run.
func run(cfg config.Host, interactive bool) (int, error) {
	logger := newLogger(cfg, interactive)
	defer func() { _ = logger.Sync() }()

	loader, err := newLoader(cfg)
	if err != nil {
		return 0, err
	}
	major, minor, err := config.ParseVersion(cfg.Version)
	if err != nil {
		return 0, err
	}

	// The kernel treats 0 as "use the default", so map the config's
	// "0 disables eviction" onto a negative value.
	idle := cfg.MaxIdle
	if idle == 0 {
		idle = -1
	}

	kernel := micro.NewKernel(&micro.KernelConfig{
		Version: micro.MakeVersion(major, minor),
		Name:    cfg.Name,
		Paths:   cfg.Paths,
		Loader:  loader,
		Logger:  logger,
		MaxIdle: idle,
	})

	kernel.Run()
	defer kernel.Stop()

	for _, name := range cfg.Preload {
		p := kernel.GetPlugin(name)
		if p == nil {
			logger.Warn("preload failed", zap.String("plugin", name))
			continue
		}
		p.Release()
	}

	if interactive {
		if err := runInteractive(kernel); err != nil {
			return 0, err
		}
		kernel.Stop()
		return kernel.Error(), nil
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	for kernel.IsRun() {
		select {
		case <-sig:
			kernel.Stop()
		case <-time.After(250 * time.Millisecond):
		}
	}

	return kernel.Error(), nil
}

func newLoader(cfg config.Host) (micro.Loader, error) {
	switch cfg.Loader {
	case "", "memory":
		l := memloader.New()
		if err := mathplugin.Register(l); err != nil {
			return nil, err
		}
		if err := tickermod.Register(l); err != nil {
			return nil, err
		}
		return l, nil
	case "native":
		return goloader.New(), nil
	case "wasm":
		return wasmloader.New(nil), nil
	default:
		return nil, fmt.Errorf("unknown loader %q", cfg.Loader)
	}
}

func newLogger(cfg config.Host, interactive bool) *zap.Logger {
	if interactive {
		// The TUI owns the terminal.
		return zap.NewNop()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	format := cfg.LogFormat
	if format == "" || format == "auto" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "console"
		} else {
			format = "json"
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = format
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if format == "console" {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
