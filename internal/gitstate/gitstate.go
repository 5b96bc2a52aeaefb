// Package gitstate inspects and manipulates the git working tree of a
// project so the loop can decide what a coder invocation actually produced.
package gitstate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCherryPickConflict marks a cherry-pick that could not apply
// cleanly. The working tree is restored before it is returned.
var ErrCherryPickConflict = errors.New("cherry-pick conflict")

// Repo runs git commands against a single working directory.
type Repo struct {
	dir string
}

// Open returns a Repo for the working tree at dir. It verifies dir is
// inside a git repository.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{dir: dir}
	if _, err := r.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", dir, err)
	}
	return r, nil
}

// Dir returns the working directory the repo operates on.
func (r *Repo) Dir() string {
	return r.dir
}

// run executes a git subcommand and returns trimmed stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Head returns the current HEAD commit SHA.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CommitsSince lists commit SHAs reachable from HEAD but not from ref,
// newest first. An empty ref lists nothing.
func (r *Repo) CommitsSince(ctx context.Context, ref string) ([]string, error) {
	if ref == "" {
		return nil, nil
	}
	out, err := r.run(ctx, "rev-list", ref+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasUncommittedChanges reports whether the working tree or index differ
// from HEAD. Untracked files count as changes.
func (r *Repo) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// ChangedFiles returns the paths touched by uncommitted changes,
// including untracked files.
func (r *Repo) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		// Porcelain format: XY <path>, or XY <old> -> <new> for renames.
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		files = append(files, path)
	}
	return files, nil
}

// CherryPick applies one commit onto HEAD. On conflict the pick is
// aborted so the tree is left clean, and ErrCherryPickConflict is
// returned wrapped with the git detail.
func (r *Repo) CherryPick(ctx context.Context, sha string) error {
	if _, err := r.run(ctx, "cherry-pick", sha); err != nil {
		if _, abortErr := r.run(ctx, "cherry-pick", "--abort"); abortErr != nil {
			return fmt.Errorf("%w: %s (abort also failed: %v)", ErrCherryPickConflict, err, abortErr)
		}
		return fmt.Errorf("%w: %s", ErrCherryPickConflict, err)
	}
	return nil
}

// StageAndCommit stages everything and commits with the given message,
// returning the new commit SHA. Used when a coder finishes its work but
// leaves the tree dirty.
func (r *Repo) StageAndCommit(ctx context.Context, message string) (string, error) {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.Head(ctx)
}
