// Package sandbox validates requested commands against an immutable policy
// and executes them as bounded, time-limited child processes.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codefionn/grepbox/internal/command"
)

// Sentinel errors for policy rejections. All of them classify as
// ErrorClassPolicyViolation.
var (
	ErrCommandNotAllowed = errors.New("command not in whitelist")
	ErrMutatingFlag      = errors.New("mutating flag not allowed")
	ErrPathEscapesRoot   = errors.New("path escapes sandbox root")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
)

// Policy is the execution boundary: root confinement, command whitelist and
// resource limits. Immutable after construction; there is no runtime flag
// that bypasses validation.
type Policy struct {
	root        string
	allowed     map[string]bool
	timeout     time.Duration
	maxFileSize int64
	maxOutput   int64
}

// NewPolicy builds a policy rooted at root. The root is resolved through
// symlinks once, here, so every later ancestor check compares resolved paths.
func NewPolicy(root string, allowedCommands []string, timeout time.Duration, maxFileSize, maxOutput int64) (*Policy, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("root not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	allowed := make(map[string]bool, len(allowedCommands))
	for _, name := range allowedCommands {
		allowed[name] = true
	}

	return &Policy{
		root:        resolved,
		allowed:     allowed,
		timeout:     timeout,
		maxFileSize: maxFileSize,
		maxOutput:   maxOutput,
	}, nil
}

// Root returns the resolved sandbox root.
func (p *Policy) Root() string { return p.root }

// Timeout returns the per-command execution timeout.
func (p *Policy) Timeout() time.Duration { return p.timeout }

// MaxOutputBytes returns the per-stream output cap.
func (p *Policy) MaxOutputBytes() int64 { return p.maxOutput }

// Allows reports whether the command name is whitelisted.
func (p *Policy) Allows(name string) bool { return p.allowed[name] }

// ValidateCommand checks the whole command against the policy and returns the
// resolved absolute paths for its path arguments. Any error means no process
// may be spawned.
func (p *Policy) ValidateCommand(cmd command.Command) ([]string, error) {
	if !p.allowed[cmd.Name] {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, cmd.Name)
	}
	if cmd.Mutating() {
		return nil, fmt.Errorf("%w: %s", ErrMutatingFlag, cmd.String())
	}

	args := cmd.PathArgs()
	resolved := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := p.ResolvePath(arg)
		if err != nil {
			return nil, err
		}
		if err := p.checkFileSize(abs); err != nil {
			return nil, err
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// ResolvePath resolves a path argument (relative to the root) through
// symlinks and verifies the result is the root or one of its descendants.
// The check runs on the resolved path, never the raw string, so `../` and
// symlink escapes are both caught.
func (p *Policy) ResolvePath(arg string) (string, error) {
	path := arg
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, path)
	}
	path = filepath.Clean(path)

	resolved, err := resolveSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, arg)
	}

	if resolved != p.root && !strings.HasPrefix(resolved, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrPathEscapesRoot, arg, resolved)
	}
	return resolved, nil
}

// checkFileSize rejects regular files above the policy limit before
// execution. This is advisory, not a security boundary: a file swapped
// between this check and the read is an accepted risk, because output is
// still hard-capped at read time.
func (p *Policy) checkFileSize(resolved string) error {
	if p.maxFileSize <= 0 {
		return nil
	}
	info, err := os.Stat(resolved)
	if err != nil {
		// Nonexistent paths are left for the command itself to report.
		return nil
	}
	if info.Mode().IsRegular() && info.Size() > p.maxFileSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, resolved, info.Size())
	}
	return nil
}

// resolveSymlinks resolves path through symlinks even when the final
// components do not exist yet: the nearest existing ancestor is resolved and
// the remainder re-attached.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir := path
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// IsPolicyViolation reports whether err is one of the policy rejections.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrCommandNotAllowed) ||
		errors.Is(err, ErrMutatingFlag) ||
		errors.Is(err, ErrPathEscapesRoot) ||
		errors.Is(err, ErrFileTooLarge)
}
