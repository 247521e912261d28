//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	landlock "github.com/landlock-lsm/go-landlock/landlock"

	"github.com/codefionn/grepbox/internal/logger"
)

// ConfineOptions controls the Landlock layer. Landlock is defense in depth on
// top of policy validation, never a replacement for it: when the kernel lacks
// Landlock support the executor still enforces the full policy.
type ConfineOptions struct {
	Disable    bool
	BestEffort bool
	// ExtraReadOnly lists additional directories the child processes may
	// read (e.g. alternative tool install locations).
	ExtraReadOnly []string
}

// Confine applies Landlock restrictions to the current process and everything
// it will spawn: the sandbox root and system binary paths become read-only,
// the cache directory stays writable, everything else disappears.
func Confine(root, cacheDir string, opts ConfineOptions) error {
	if opts.Disable {
		logger.Info("landlock confinement disabled via config")
		return nil
	}

	var rules []landlock.Rule

	addDir := func(path string, rw bool) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, err := os.Stat(abs); err != nil {
			return
		}
		if rw {
			rules = append(rules, landlock.RWDirs(abs))
		} else {
			rules = append(rules, landlock.RODirs(abs))
		}
	}

	addDir(root, false)
	addDir(cacheDir, true)

	// System paths needed to exec the whitelisted binaries.
	for _, p := range []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc", "/run/current-system/sw", "/nix/store"} {
		addDir(p, false)
	}
	for _, p := range opts.ExtraReadOnly {
		addDir(p, false)
	}
	addDir(os.TempDir(), true)

	// Device files many tools open unconditionally.
	for _, f := range []string{"/dev/null", "/dev/zero", "/dev/urandom"} {
		if _, err := os.Stat(f); err == nil {
			rules = append(rules, landlock.RWFiles(f))
		}
	}

	var err error
	if opts.BestEffort {
		err = landlock.V6.BestEffort().RestrictPaths(rules...)
	} else {
		err = landlock.V6.RestrictPaths(rules...)
	}
	if err != nil {
		logger.Warn("landlock restriction failed, continuing without kernel confinement: %v", err)
		return fmt.Errorf("landlock restriction failed: %w", err)
	}

	logger.Info("landlock confinement applied: root=%s cache=%s", root, cacheDir)
	return nil
}
