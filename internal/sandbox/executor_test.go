package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/grepbox/internal/command"
)

func newTestExecutor(t *testing.T, root string, allowed []string, timeout time.Duration, maxOutput int64) *Executor {
	t.Helper()
	p, err := NewPolicy(root, allowed, timeout, 10*1024*1024, maxOutput)
	require.NoError(t, err)
	return NewExecutor(p, nil)
}

func TestExecutePolicyViolationSpawnsNothing(t *testing.T) {
	e := newTestExecutor(t, t.TempDir(), []string{"cat"}, time.Second, 0)

	res := e.Execute(context.Background(), command.New("rm", "-rf", "."))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassPolicyViolation, res.ErrorClass)

	res = e.Execute(context.Background(), command.New("cat", "../etc/passwd"))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassPolicyViolation, res.ErrorClass)
	assert.Contains(t, res.ErrorDetail, "escapes sandbox root")
}

func TestExecuteGrepFlagPatternConfinement(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("topsecret-token\n"), 0644))

	e := newTestExecutor(t, t.TempDir(), []string{"grep"}, 5*time.Second, 1024*1024)

	// With -e supplying the pattern, the operand is a file and must be
	// confined like any other path.
	res := e.Execute(context.Background(), command.New("grep", "-e", "topsecret", secret))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassPolicyViolation, res.ErrorClass)
	assert.Empty(t, res.Stdout)

	// A -f pattern file outside the root is equally rejected.
	res = e.Execute(context.Background(), command.New("grep", "-f", secret, "a.md"))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassPolicyViolation, res.ErrorClass)
}

func TestExecuteCat(t *testing.T) {
	root := t.TempDir()
	content := "hello from the sandbox\n"
	require.NoError(t, os.MkdirAll(filepath.Join(root, "notes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes", "a.txt"), []byte(content), 0644))

	e := newTestExecutor(t, root, []string{"cat"}, 5*time.Second, 1024*1024)

	res := e.Execute(context.Background(), command.New("cat", "notes/a.txt"))
	require.True(t, res.Success, "error: %s", res.ErrorDetail)
	assert.Equal(t, content, res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Truncated)
	assert.Empty(t, res.ErrorClass)
}

func TestExecuteGrepNoMatchIsSuccess(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("nothing here\n"), 0644))

	e := newTestExecutor(t, root, []string{"grep"}, 5*time.Second, 1024*1024)

	res := e.Execute(context.Background(), command.New("grep", "absent-pattern", "a.md"))
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, res.Stdout)
}

func TestExecuteOutputStreamCapped(t *testing.T) {
	root := t.TempDir()
	line := strings.Repeat("x", 1023) + "\n"
	big := strings.Repeat(line, 200) // 200 KiB
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0644))

	maxOutput := int64(64 * 1024)
	e := newTestExecutor(t, root, []string{"cat"}, 5*time.Second, maxOutput)

	res := e.Execute(context.Background(), command.New("cat", "big.txt"))
	require.True(t, res.Success, "error: %s", res.ErrorDetail)
	assert.True(t, res.Truncated)
	assert.Equal(t, int(maxOutput), len(res.Stdout))
}

func TestExecuteTimeoutKillsProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are POSIX-only")
	}

	e := newTestExecutor(t, t.TempDir(), []string{"sleep"}, 200*time.Millisecond, 0)

	start := time.Now()
	res := e.Execute(context.Background(), command.New("sleep", "5"))
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassTimeout, res.ErrorClass)
	// Execute must return once the group is dead, not after the full sleep
	assert.Less(t, elapsed, 2*time.Second)
}

func TestExecuteContextCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are POSIX-only")
	}

	e := newTestExecutor(t, t.TempDir(), []string{"sleep"}, 10*time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := e.Execute(ctx, command.New("sleep", "5"))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassExec, res.ErrorClass)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteUnknownBinary(t *testing.T) {
	root := t.TempDir()
	p, err := NewPolicy(root, []string{"definitely-not-installed-anywhere"}, time.Second, 0, 0)
	require.NoError(t, err)
	e := NewExecutor(p, nil)

	res := e.Execute(context.Background(), command.New("definitely-not-installed-anywhere"))
	assert.False(t, res.Success)
	assert.Equal(t, ErrorClassExec, res.ErrorClass)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(10)
	n, err := b.Write([]byte("12345678"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.False(t, b.Truncated())

	// Write crossing the limit keeps only the prefix but reports full length
	n, err = b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, b.Truncated())
	assert.Equal(t, "12345678ab", b.String())

	// Further writes are swallowed
	_, _ = b.Write([]byte("zzz"))
	assert.Equal(t, "12345678ab", b.String())
}
