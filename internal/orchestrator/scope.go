package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"
)

// computeScope expands a command's resolved path arguments into the flat set
// of files and directories its result depends on. Directories are walked
// recursively and included themselves, so adding or removing an entry changes
// the directory fingerprint and stales the result.
//
// Returns ok=false when the dependency set cannot be bounded: no path
// arguments, an unreadable path, or more than maxFiles entries. Such commands
// run uncached.
func computeScope(resolvedArgs []string, maxFiles int) ([]string, bool) {
	if len(resolvedArgs) == 0 {
		return nil, false
	}

	seen := make(map[string]bool)
	var scope []string
	add := func(path string) bool {
		if seen[path] {
			return true
		}
		if len(scope) >= maxFiles {
			return false
		}
		seen[path] = true
		scope = append(scope, path)
		return true
	}

	for _, arg := range resolvedArgs {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, false
		}

		if !info.IsDir() {
			if !add(arg) {
				return nil, false
			}
			continue
		}

		overflow := false
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !add(path) {
				overflow = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil || overflow {
			return nil, false
		}
	}

	return scope, true
}
