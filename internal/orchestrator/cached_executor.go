// Package orchestrator dispatches batches of commands through the sandbox,
// layering the persistent cache between callers and child processes.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/codefionn/grepbox/internal/cache"
	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/logger"
	"github.com/codefionn/grepbox/internal/sandbox"
)

// Executor is the execution dependency of the orchestrator. Satisfied by
// sandbox.Executor and by CachedExecutor itself.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) *sandbox.ExecutionResult
}

// errUncacheable marks a loader result that must not be persisted. It never
// escapes to callers.
var errUncacheable = errors.New("result not cacheable")

// CachedExecutor wraps a sandbox executor with the two cache tiers. Whole-file
// reads (cat of a single file) go through the content tier keyed by resolved
// path; every other whitelisted command goes through the search tier keyed by
// its full argument vector, scoped to the files it touches. Cache failures
// degrade to direct execution, never to a failed request.
type CachedExecutor struct {
	runner   Executor
	policy   *sandbox.Policy
	mgr      *cache.Manager
	maxScope int
	log      *logger.Logger
}

// NewCachedExecutor wires the cache tiers in front of runner.
func NewCachedExecutor(runner Executor, policy *sandbox.Policy, mgr *cache.Manager, maxScope int, log *logger.Logger) *CachedExecutor {
	if log == nil {
		log = logger.Global()
	}
	return &CachedExecutor{
		runner:   runner,
		policy:   policy,
		mgr:      mgr,
		maxScope: maxScope,
		log:      log.WithComponent("cached-exec"),
	}
}

// Execute runs cmd through the appropriate cache tier.
func (e *CachedExecutor) Execute(ctx context.Context, cmd command.Command) *sandbox.ExecutionResult {
	resolvedArgs, err := e.policy.ValidateCommand(cmd)
	if err != nil {
		// Let the sandbox produce the canonical rejection; it spawns
		// nothing for invalid commands.
		return e.runner.Execute(ctx, cmd)
	}

	if isWholeFileRead(cmd) && len(resolvedArgs) == 1 {
		return e.executeContent(ctx, cmd, resolvedArgs[0])
	}
	return e.executeSearch(ctx, cmd, resolvedArgs)
}

// isWholeFileRead reports whether cmd is a plain cat of one argument. Any flag
// changes the output shape, so flagged invocations use the search tier.
func isWholeFileRead(cmd command.Command) bool {
	if cmd.Name != command.NameCat || len(cmd.Args) != 1 {
		return false
	}
	return !strings.HasPrefix(cmd.Args[0], "-")
}

// executeContent serves a whole-file read from the content tier. The cached
// value is the raw file bytes; a hit synthesizes a successful result without
// spawning a process.
func (e *CachedExecutor) executeContent(ctx context.Context, cmd command.Command, resolved string) *sandbox.ExecutionResult {
	var direct *sandbox.ExecutionResult

	data, hit, err := e.mgr.Contents.GetContent(ctx, resolved, func(ctx context.Context) ([]byte, error) {
		res := e.runner.Execute(ctx, cmd)
		direct = res
		// A hit synthesizes a clean success, so only exit-0 runs may be
		// cached here; cat of a directory exits 1 with empty stdout and
		// must never replay as success.
		if !res.Success || res.Truncated || res.ExitCode != 0 {
			return nil, errUncacheable
		}
		return []byte(res.Stdout), nil
	})
	if err != nil {
		if direct != nil {
			return direct
		}
		e.log.Warn("content tier failed for %s, executing directly: %v", cmd.String(), err)
		return e.runner.Execute(ctx, cmd)
	}

	if hit {
		return &sandbox.ExecutionResult{
			Success: true,
			Stdout:  string(data),
		}
	}
	return direct
}

// resultEnvelope is the persisted form of an ExecutionResult. Output travels
// as raw bytes, not JSON strings: string encoding would substitute U+FFFD for
// invalid UTF-8 and a hit would no longer replay byte-identical output.
type resultEnvelope struct {
	Success    bool   `json:"success"`
	Stdout     []byte `json:"stdout"`
	Stderr     []byte `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}

func encodeResult(res *sandbox.ExecutionResult) ([]byte, error) {
	return json.Marshal(resultEnvelope{
		Success:    res.Success,
		Stdout:     []byte(res.Stdout),
		Stderr:     []byte(res.Stderr),
		ExitCode:   res.ExitCode,
		Truncated:  res.Truncated,
		DurationMs: res.DurationMs,
	})
}

func decodeResult(data []byte) (*sandbox.ExecutionResult, error) {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &sandbox.ExecutionResult{
		Success:    env.Success,
		Stdout:     string(env.Stdout),
		Stderr:     string(env.Stderr),
		ExitCode:   env.ExitCode,
		Truncated:  env.Truncated,
		DurationMs: env.DurationMs,
	}, nil
}

// executeSearch serves any other command from the search tier. The cached
// value is the full encoded ExecutionResult so hits reproduce stdout, stderr
// and exit code exactly.
func (e *CachedExecutor) executeSearch(ctx context.Context, cmd command.Command, resolvedArgs []string) *sandbox.ExecutionResult {
	scope, ok := computeScope(resolvedArgs, e.maxScope)
	if !ok {
		return e.runner.Execute(ctx, cmd)
	}

	var direct *sandbox.ExecutionResult

	data, hit, err := e.mgr.Searches.GetResult(ctx, command.CacheKey(cmd), scope, func(ctx context.Context) ([]byte, error) {
		res := e.runner.Execute(ctx, cmd)
		direct = res
		if !res.Success || res.Truncated {
			return nil, errUncacheable
		}
		return encodeResult(res)
	})
	if err != nil {
		if direct != nil {
			return direct
		}
		e.log.Warn("search tier failed for %s, executing directly: %v", cmd.String(), err)
		return e.runner.Execute(ctx, cmd)
	}

	if hit {
		res, err := decodeResult(data)
		if err != nil {
			e.log.Warn("corrupt cached result for %s, executing directly: %v", cmd.String(), err)
			return e.runner.Execute(ctx, cmd)
		}
		return res
	}
	return direct
}
