package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/codefionn/grepbox/internal/cache"
	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/config"
	"github.com/codefionn/grepbox/internal/logger"
	"github.com/codefionn/grepbox/internal/orchestrator"
	"github.com/codefionn/grepbox/internal/sandbox"
)

type options struct {
	configPath string
	root       string
	workers    int
	timeout    int
	logLevel   string
	logPath    string
	noLandlock bool
	watch      bool

	batch           bool
	stats           bool
	clearCache      bool
	prewarm         string
	invalidatePath  string
	invalidateScope string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*options, []string, error) {
	opts := &options{}
	fs := flag.NewFlagSet("grepbox", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to JSON config file")
	fs.StringVar(&opts.root, "root", ".", "sandbox root directory")
	fs.IntVar(&opts.workers, "workers", 0, "max concurrent commands (default from config)")
	fs.IntVar(&opts.timeout, "timeout", 0, "per-command timeout in seconds (default from config)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error, none")
	fs.StringVar(&opts.logPath, "log-file", "", "log file path (default stderr)")
	fs.BoolVar(&opts.noLandlock, "no-landlock", false, "disable kernel-level confinement")
	fs.BoolVar(&opts.watch, "watch", false, "invalidate cache entries on filesystem events")
	fs.BoolVar(&opts.batch, "batch", false, "read a JSON array of commands from stdin")
	fs.BoolVar(&opts.stats, "stats", false, "print cache statistics and exit")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "remove all cache entries and exit")
	fs.StringVar(&opts.prewarm, "prewarm", "", "load every file under the given directory into the cache")
	fs.StringVar(&opts.invalidatePath, "invalidate", "", "drop cache entries depending on the given path")
	fs.StringVar(&opts.invalidateScope, "invalidate-scope", "", "drop cache entries depending on any path under the given prefix")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: grepbox [flags] [command [args...]]\n\n")
		fmt.Fprintf(fs.Output(), "Runs whitelisted read-only commands inside a sandboxed root with\npersistent result caching.\n\n")
		fmt.Fprintf(fs.Output(), "Examples:\n")
		fmt.Fprintf(fs.Output(), "  grepbox -root ./src grep -n TODO main.go\n")
		fmt.Fprintf(fs.Output(), "  grepbox -root ./src -batch < commands.json\n")
		fmt.Fprintf(fs.Output(), "  grepbox -root ./src -prewarm .\n\n")
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

func run() (err error) {
	opts, rest, parseErr := parseArgs(os.Args[1:])
	if parseErr != nil {
		if parseErr == flag.ErrHelp {
			return nil
		}
		return parseErr
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.Path); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("grepbox starting, root=%s", cfg.Root)

	if err := os.MkdirAll(cfg.Cache.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	policy, err := sandbox.NewPolicy(cfg.Root, cfg.Sandbox.AllowedCommands, cfg.Timeout(),
		cfg.Sandbox.MaxFileSizeBytes, cfg.Sandbox.MaxOutputBytes)
	if err != nil {
		return fmt.Errorf("failed to build policy: %w", err)
	}

	// Kernel confinement is applied before anything touches the tree. A
	// kernel without Landlock still gets full policy validation.
	if confErr := sandbox.Confine(policy.Root(), cfg.Cache.Dir, sandbox.ConfineOptions{
		Disable:    cfg.Sandbox.DisableLandlock,
		BestEffort: true,
	}); confErr != nil {
		logger.Warn("continuing without kernel confinement: %v", confErr)
	}

	mgr, err := cache.NewManager(cfg.Cache.Dir, cfg.Cache.MaxBytes, cfg.Cache.MaxScopeFiles,
		cfg.Cache.ContentHash, nil)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer mgr.Close()

	if cfg.Cache.Watch {
		if watchErr := mgr.EnableWatcher(policy.Root()); watchErr != nil {
			logger.Warn("failed to start watcher: %v", watchErr)
		}
	}

	exec := sandbox.NewExecutor(policy, nil)
	cached := orchestrator.NewCachedExecutor(exec, policy, mgr, cfg.Cache.MaxScopeFiles, nil)
	orch := orchestrator.New(cached, policy, mgr, cfg.Workers, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case opts.clearCache:
		if err := orch.ClearAll(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Println("cache cleared")
		return nil

	case opts.stats:
		printStats(orch.Stats())
		return nil

	case opts.invalidatePath != "":
		resolved, err := policy.ResolvePath(opts.invalidatePath)
		if err != nil {
			return err
		}
		orch.InvalidatePath(resolved)
		return nil

	case opts.invalidateScope != "":
		resolved, err := policy.ResolvePath(opts.invalidateScope)
		if err != nil {
			return err
		}
		orch.InvalidateScope(resolved)
		return nil

	case opts.prewarm != "":
		warmed, err := orch.Prewarm(ctx, opts.prewarm, textFileFilter)
		if err != nil {
			return fmt.Errorf("prewarm failed: %w", err)
		}
		fmt.Printf("prewarmed %d files\n", warmed)
		return nil

	case opts.batch:
		return runBatch(ctx, orch, os.Stdin)

	case len(rest) > 0:
		return runSingle(ctx, orch, command.New(rest[0], rest[1:]...))

	default:
		return fmt.Errorf("no command given (see -h)")
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default(opts.root)
	}

	// Flags override the config file.
	if opts.root != "." || cfg.Root == "" {
		cfg.Root = opts.root
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.timeout > 0 {
		cfg.Sandbox.TimeoutSeconds = opts.timeout
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logPath != "" {
		cfg.Log.Path = opts.logPath
	}
	if opts.noLandlock {
		cfg.Sandbox.DisableLandlock = true
	}
	if opts.watch {
		cfg.Cache.Watch = true
	}
	return cfg, nil
}

// runSingle executes one command and mirrors its streams and exit code, so
// grepbox can stand in for the wrapped command in pipelines.
func runSingle(ctx context.Context, orch *orchestrator.Orchestrator, cmd command.Command) error {
	results := orch.ExecuteBatch(ctx, []command.Command{cmd})
	res := results[0]

	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	if res.Truncated {
		fmt.Fprintln(os.Stderr, "grepbox: output truncated")
	}

	if !res.Success {
		return fmt.Errorf("%s: %s", res.ErrorClass, res.ErrorDetail)
	}
	if res.ExitCode != 0 {
		os.Exit(res.ExitCode)
	}
	return nil
}

// runBatch reads a JSON array of commands from r and writes the JSON array of
// results to stdout, one slot per input command.
func runBatch(ctx context.Context, orch *orchestrator.Orchestrator, r *os.File) error {
	var cmds []command.Command
	if err := json.NewDecoder(r).Decode(&cmds); err != nil {
		return fmt.Errorf("failed to parse batch input: %w", err)
	}
	if len(cmds) == 0 {
		return fmt.Errorf("batch input is empty")
	}

	results := orch.ExecuteBatch(ctx, cmds)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// binaryExtensions lists extensions skipped during prewarm; caching compiled
// artifacts wastes budget that text files would use.
var binaryExtensions = map[string]bool{
	".a": true, ".o": true, ".so": true, ".dylib": true, ".dll": true,
	".exe": true, ".bin": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".db": true, ".sqlite": true, ".wasm": true,
}

func textFileFilter(path string) bool {
	return !binaryExtensions[filepath.Ext(path)]
}

func printStats(stats cache.Stats) {
	total := stats.HitCount + stats.MissCount
	ratio := 0.0
	if total > 0 {
		ratio = float64(stats.HitCount) / float64(total) * 100
	}
	fmt.Printf("entries:   %d\n", stats.CacheEntries)
	fmt.Printf("size:      %s\n", humanize.Bytes(uint64(stats.CacheBytes)))
	fmt.Printf("hits:      %d\n", stats.HitCount)
	fmt.Printf("misses:    %d\n", stats.MissCount)
	fmt.Printf("hit ratio: %.1f%%\n", ratio)
}
