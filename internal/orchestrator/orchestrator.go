package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/grepbox/internal/cache"
	"github.com/codefionn/grepbox/internal/command"
	"github.com/codefionn/grepbox/internal/logger"
	"github.com/codefionn/grepbox/internal/sandbox"
)

// DefaultWidth is the concurrency bound used when none is configured.
const DefaultWidth = 5

// Orchestrator executes batches of commands. Batches that are read-only in
// their entirety run concurrently under a bounded worker limit; anything else
// runs strictly sequentially, in order.
type Orchestrator struct {
	exec       Executor
	classifier command.Classifier
	policy     *sandbox.Policy
	mgr        *cache.Manager
	width      int
	log        *logger.Logger
}

// New builds an orchestrator dispatching through exec with the given
// concurrency width.
func New(exec Executor, policy *sandbox.Policy, mgr *cache.Manager, width int, log *logger.Logger) *Orchestrator {
	if width <= 0 {
		width = DefaultWidth
	}
	if log == nil {
		log = logger.Global()
	}
	return &Orchestrator{
		exec:       exec,
		classifier: command.ReadOnlyClassifier{},
		policy:     policy,
		mgr:        mgr,
		width:      width,
		log:        log.WithComponent("orchestrator"),
	}
}

// ExecuteBatch runs every command and returns exactly one result per input,
// in input order. Per-command failures are encoded in their result slot; the
// returned slice is never shorter than the input.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, cmds []command.Command) []*sandbox.ExecutionResult {
	results := make([]*sandbox.ExecutionResult, len(cmds))
	if len(cmds) == 0 {
		return results
	}

	if o.allReadOnly(cmds) {
		o.log.Debug("dispatching %d read-only commands, width %d", len(cmds), o.width)
		var g errgroup.Group
		g.SetLimit(o.width)
		for i := range cmds {
			g.Go(func() error {
				results[i] = o.exec.Execute(ctx, cmds[i])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		o.log.Debug("dispatching %d commands sequentially", len(cmds))
		for i := range cmds {
			results[i] = o.exec.Execute(ctx, cmds[i])
		}
	}

	// Every slot must be filled; a hole is a dispatch bug, not a runtime
	// condition callers can handle.
	for i, res := range results {
		if res == nil {
			panic(fmt.Sprintf("orchestrator: no result for command %d (%s)", i, cmds[i].String()))
		}
	}
	return results
}

func (o *Orchestrator) allReadOnly(cmds []command.Command) bool {
	for _, cmd := range cmds {
		if o.classifier.Classify(cmd) != command.KindReadOnly {
			return false
		}
	}
	return true
}

// InvalidatePath drops every cache entry depending on the given path.
func (o *Orchestrator) InvalidatePath(path string) {
	o.mgr.InvalidatePath(path)
}

// InvalidateScope drops every cache entry depending on any path under prefix.
func (o *Orchestrator) InvalidateScope(prefix string) {
	o.mgr.InvalidateScope(prefix)
}

// ClearAll removes every cache entry.
func (o *Orchestrator) ClearAll() error {
	return o.mgr.ClearAll()
}

// Stats reports aggregate cache state.
func (o *Orchestrator) Stats() cache.Stats {
	return o.mgr.Stats()
}
