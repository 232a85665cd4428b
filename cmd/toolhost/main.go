// Toolhost runs a registry of tool servers behind one HTTP API.
//
// External servers speak MCP over stdio or HTTP and are declared in the
// config file; in-process servers (fetch, creative_writer) are added by
// the selected toolset. Configuration is loaded from a YAML or TOML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	toolhost serve                        Start the API server
//	toolhost init [dir]                   Write an example config.yaml
//	toolhost tools                        List every tool
//	toolhost call <server--tool> [json]   Call one tool and print the result
//	toolhost version                      Print version and build information
//	toolhost -o json tools                Output as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/toolhost/internal/api"
	"github.com/nugget/toolhost/internal/buildinfo"
	"github.com/nugget/toolhost/internal/config"
	"github.com/nugget/toolhost/internal/defaults"
	"github.com/nugget/toolhost/internal/events"
	"github.com/nugget/toolhost/internal/fetch"
	"github.com/nugget/toolhost/internal/mcp"
	"github.com/nugget/toolhost/internal/story"
	"github.com/nugget/toolhost/internal/toolset"
)

// recentEvents is how many events /v1/events/recent keeps.
const recentEvents = 200

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's globals get in the way of calling run from parallel tests.
// Logs go to stdout unless a command prints data there, in which case
// they go to stderr.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "call":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: toolhost call <server--tool> [json-arguments]")
		}
		return runCall(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Get()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, f := range info.Fields() {
		fmt.Fprintf(w, "  %-12s %s\n", f[0]+":", f[1])
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "toolhost - MCP tool server host")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: toolhost [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                       Start the API server")
	fmt.Fprintln(w, "  init [dir]                  Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  tools                       List every registered tool")
	fmt.Fprintln(w, "  call <server--tool> [json]  Call one tool and print its result")
	fmt.Fprintln(w, "  version                     Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runInit writes the example configuration into dir. An existing
// config.yaml is left untouched.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipped)\n", path)
		return nil
	}
	if err := os.WriteFile(path, defaults.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

// app is everything a command needs once config is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	host    *mcp.Host
	toolset toolset.Toolset
	store   *story.Store
}

// close shuts down tool servers and the snapshot store.
func (rt *app) close() {
	if err := rt.host.Close(); err != nil {
		rt.logger.Warn("closing tool servers", "error", err)
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing story store", "error", err)
		}
	}
}

// boot loads config and assembles the host: the toolset's in-process
// servers first, then every configured external server. Servers that
// fail to start are logged and skipped.
func boot(ctx context.Context, logw io.Writer, configPath string) (*app, error) {
	logger := newLogger(logw, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Level and format were validated by Load.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(logw, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"toolset", cfg.Toolset,
		"servers", len(cfg.MCPServers),
	)

	rt := &app{cfg: cfg, logger: logger, bus: events.New()}
	rt.host = mcp.NewHost(mcp.HostConfig{
		RequestTimeout: cfg.Timeouts.Request(),
		StartupTimeout: cfg.Timeouts.Startup(),
		Logger:         logger,
		Events:         rt.bus,
	})

	if cfg.Story.DBPath != "" && cfg.Toolset == toolset.KindStory {
		if err := os.MkdirAll(filepath.Dir(cfg.Story.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create story directory: %w", err)
		}
		rt.store, err = story.OpenStore(cfg.Story.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open story store: %w", err)
		}
		logger.Info("story store opened", "path", cfg.Story.DBPath)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:  cfg.Fetch.Timeout(),
		MaxBytes: cfg.Fetch.MaxBytes,
		MaxChars: cfg.Fetch.MaxChars,
		Logger:   logger,
	})

	rt.toolset, err = toolset.New(cfg.Toolset, rt.host, toolset.Options{
		Fetcher: fetcher,
		Logger:  logger,
		Story: toolset.StoryOptions{
			Name:  cfg.Story.Name,
			Title: cfg.Story.Title,
			Store: rt.store,
		},
	})
	if err != nil {
		rt.close()
		return nil, err
	}

	if err := rt.host.SyncServers(ctx, cfg.Specs()); err != nil {
		logger.Warn("some tool servers failed to start", "error", err)
	}
	logger.Info("tool servers ready", "servers", rt.host.ServerIDs())
	return rt, nil
}

// runServe starts the host and API server and blocks until SIGINT or
// SIGTERM. Shutdown drains HTTP requests, then stops tool servers.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := boot(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger
	logger.Info("starting toolhost", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	recent := events.NewRecent(rt.bus, recentEvents)
	defer recent.Stop()

	server := api.NewServer(api.Config{
		Address: rt.cfg.Listen.Address,
		Port:    rt.cfg.Listen.Port,
		Host:    rt.host,
		Toolset: rt.toolset,
		Events:  rt.bus,
		Recent:  recent,
		Logger:  logger,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("toolhost stopped")
	return nil
}

// runTools boots the host, prints every tool and exits.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	rt, err := boot(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	tools, err := rt.host.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].QualifiedName() < tools[j].QualifiedName()
	})

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mcp.FunctionDefinitions(tools))
	}
	for _, t := range tools {
		fmt.Fprintf(stdout, "%-40s %s\n", t.QualifiedName(), firstLine(t.Tool.Description))
	}
	return nil
}

// runCall boots the host, invokes one tool and prints its result. A
// tool-level failure is printed and reported as an error exit.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	name := args[0]
	var arguments json.RawMessage
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("arguments are not valid JSON: %s", raw)
		}
		arguments = json.RawMessage(raw)
	}

	rt, err := boot(ctx, stderr, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	var callArgs any
	if arguments != nil {
		callArgs = arguments
	}
	result, err := rt.host.CallQualified(ctx, name, callArgs)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(stdout, result.Text())
	}
	if result.IsError {
		return errors.New("tool reported an error")
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the configuration file. If explicit is
// non-empty, that exact path is used and must exist.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
