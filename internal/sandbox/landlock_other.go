//go:build !linux

package sandbox

import "github.com/codefionn/grepbox/internal/logger"

// ConfineOptions controls the Landlock layer; it only has an effect on Linux.
type ConfineOptions struct {
	Disable       bool
	BestEffort    bool
	ExtraReadOnly []string
}

// Confine is a no-op outside Linux; the executor's policy validation is the
// enforced boundary on every platform.
func Confine(root, cacheDir string, opts ConfineOptions) error {
	logger.Debug("landlock unavailable on this platform, relying on policy validation")
	return nil
}
