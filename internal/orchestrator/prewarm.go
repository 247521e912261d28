package orchestrator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// PrewarmFilter selects which files a prewarm pass loads. A nil filter
// accepts everything.
type PrewarmFilter func(path string) bool

// Prewarm walks dir and loads every regular file passing the filter into the
// content tier, bounded by the orchestrator's concurrency width. Files that
// escape the sandbox root or exceed the output cap are skipped. Returns the
// number of files loaded.
func (o *Orchestrator) Prewarm(ctx context.Context, dir string, filter PrewarmFilter) (int, error) {
	resolved, err := o.policy.ResolvePath(dir)
	if err != nil {
		return 0, err
	}

	var warmed atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.width)

	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			o.log.Warn("prewarm: skipping %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if filter != nil && !filter(path) {
			return nil
		}

		// Symlinked files resolving outside the root are not loadable.
		target, err := o.policy.ResolvePath(path)
		if err != nil {
			return nil
		}

		info, err := os.Stat(target)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if info.Size() > o.policy.MaxOutputBytes() {
			// A read this large would be truncated and never cached.
			return nil
		}

		g.Go(func() error {
			_, _, err := o.mgr.Contents.GetContent(ctx, target, func(ctx context.Context) ([]byte, error) {
				return os.ReadFile(target)
			})
			if err != nil {
				o.log.Warn("prewarm: failed to load %s: %v", target, err)
				return nil
			}
			warmed.Add(1)
			return nil
		})
		return nil
	})

	_ = g.Wait()
	if walkErr != nil {
		return int(warmed.Load()), walkErr
	}
	return int(warmed.Load()), nil
}
