package gitstate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")

	repo, err := Open(context.Background(), dir)
	require.NoError(t, err)
	return repo
}

func TestOpenRejectsNonRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := Open(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestCommitsSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base, err := repo.Head(ctx)
	require.NoError(t, err)

	commits, err := repo.CommitsSince(ctx, base)
	require.NoError(t, err)
	require.Empty(t, commits)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "a.txt"), []byte("a"), 0o644))
	sha, err := repo.StageAndCommit(ctx, "add a")
	require.NoError(t, err)
	require.Len(t, sha, 40)

	commits, err = repo.CommitsSince(ctx, base)
	require.NoError(t, err)
	require.Equal(t, []string{sha}, commits)
}

func TestUncommittedChanges(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dirty, err := repo.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "new.txt"), []byte("x"), 0o644))

	dirty, err = repo.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	require.True(t, dirty)

	files, err := repo.ChangedFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, files)
}

func TestStageAndCommitAdvancesHead(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	before, err := repo.Head(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(), "b.txt"), []byte("b"), 0o644))
	after, err := repo.StageAndCommit(ctx, "add b")
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	dirty, err := repo.HasUncommittedChanges(ctx)
	require.NoError(t, err)
	require.False(t, dirty)
}
