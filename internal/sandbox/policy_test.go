package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/grepbox/internal/command"
)

func testPolicy(t *testing.T, root string) *Policy {
	t.Helper()
	p, err := NewPolicy(root, []string{"grep", "find", "cat", "head", "tail", "ls", "wc"},
		5*time.Second, 1024*1024, 64*1024)
	require.NoError(t, err)
	return p
}

func TestNewPolicyRejectsMissingRoot(t *testing.T) {
	_, err := NewPolicy(filepath.Join(t.TempDir(), "gone"), []string{"cat"}, time.Second, 0, 0)
	assert.Error(t, err)
}

func TestValidateCommandWhitelist(t *testing.T) {
	p := testPolicy(t, t.TempDir())

	_, err := p.ValidateCommand(command.New("rm", "-rf", "."))
	assert.ErrorIs(t, err, ErrCommandNotAllowed)

	_, err = p.ValidateCommand(command.New("bash", "-c", "cat x"))
	assert.ErrorIs(t, err, ErrCommandNotAllowed)

	_, err = p.ValidateCommand(command.New("ls", "."))
	assert.NoError(t, err)
}

func TestValidateCommandMutatingFlags(t *testing.T) {
	p := testPolicy(t, t.TempDir())

	_, err := p.ValidateCommand(command.New("find", ".", "-delete"))
	assert.ErrorIs(t, err, ErrMutatingFlag)

	_, err = p.ValidateCommand(command.New("find", ".", "-exec", "rm", "{}", ";"))
	assert.ErrorIs(t, err, ErrMutatingFlag)
}

func TestResolvePathConfinement(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0644))
	p := testPolicy(t, root)

	// Inside the root, relative and absolute both pass
	got, err := p.ResolvePath("a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root(), "a.txt"), got)

	_, err = p.ResolvePath(p.Root())
	assert.NoError(t, err)

	// Traversal out of the root is rejected on the resolved path
	_, err = p.ResolvePath("../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	_, err = p.ResolvePath("/etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	// A raw-string prefix match is not enough: /data-evil must not pass /data
	_, err = p.ResolvePath(p.Root() + "-sibling/file")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestResolvePathSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644))

	root := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "dirlink")))

	p := testPolicy(t, root)

	_, err := p.ResolvePath("link")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	_, err = p.ResolvePath("dirlink/secret")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	// A symlink pointing inside the root is fine
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("y"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "inlink")))
	got, err := p.ResolvePath("inlink")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root(), "real.txt"), got)
}

func TestValidateCommandFileSize(t *testing.T) {
	root := t.TempDir()
	big := filepath.Join(root, "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, 2048), 0644))

	p, err := NewPolicy(root, []string{"cat"}, time.Second, 1024, 0)
	require.NoError(t, err)

	_, err = p.ValidateCommand(command.New("cat", "big.bin"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	// Nonexistent paths are not a size violation; the command reports them
	_, err = p.ValidateCommand(command.New("cat", "missing.txt"))
	assert.NoError(t, err)
}

func TestIsPolicyViolation(t *testing.T) {
	p := testPolicy(t, t.TempDir())
	_, err := p.ValidateCommand(command.New("rm", "x"))
	assert.True(t, IsPolicyViolation(err))
	assert.False(t, IsPolicyViolation(nil))
	assert.False(t, IsPolicyViolation(os.ErrNotExist))
}
