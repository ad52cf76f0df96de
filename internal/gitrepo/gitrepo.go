// Package gitrepo drives the git CLI for the watched work trees.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

var (
	ErrNoRemote       = errors.New("no remotes found in the repository")
	ErrBranchNotFound = errors.New("branch not found on remote")
	ErrNotRepository  = errors.New("not a git work tree")
)

// fetches is shared by every Repo so two projects pointing at the same work
// tree trigger a single `git fetch`.
var fetches singleflight.Group

type Repo struct {
	path string
	git  string
}

type Option func(*Repo)

// WithGit overrides the git executable.
func WithGit(bin string) Option {
	return func(r *Repo) { r.git = bin }
}

// Open checks that path is inside a git work tree.
func Open(ctx context.Context, path string, opts ...Option) (*Repo, error) {
	if path == "" {
		return nil, fmt.Errorf("open repository: path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	if fi, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("open repository %s: not a directory", path)
	}

	r := &Repo{path: abs, git: "git"}
	for _, apply := range opts {
		if apply != nil {
			apply(r)
		}
	}

	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || out != "true" {
		return nil, fmt.Errorf("open repository %s: %w", path, ErrNotRepository)
	}
	return r, nil
}

func (r *Repo) Path() string { return r.path }

// Head returns the commit hash of the local HEAD.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// Remotes lists the configured remotes in git's order.
func (r *Repo) Remotes(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "remote")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (r *Repo) firstRemote(ctx context.Context) (string, error) {
	remotes, err := r.Remotes(ctx)
	if err != nil {
		return "", err
	}
	if len(remotes) == 0 {
		return "", ErrNoRemote
	}
	return remotes[0], nil
}

// Fetch fetches the first remote. Concurrent calls for the same work tree
// share one git process.
func (r *Repo) Fetch(ctx context.Context) error {
	remote, err := r.firstRemote(ctx)
	if err != nil {
		return err
	}
	_, err, _ = fetches.Do(r.path+"\x00"+remote, func() (any, error) {
		_, err := r.run(ctx, "fetch", "--quiet", remote)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", remote, err)
	}
	return nil
}

// HasNewCommit fetches the first remote and reports whether its branch points
// at a different commit than the local HEAD.
func (r *Repo) HasNewCommit(ctx context.Context, branch string) (bool, error) {
	if err := r.Fetch(ctx); err != nil {
		return false, err
	}
	remote, err := r.firstRemote(ctx)
	if err != nil {
		return false, err
	}
	local, err := r.Head(ctx)
	if err != nil {
		return false, err
	}
	upstream, err := r.run(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/"+remote+"/"+branch+"^{commit}")
	if err != nil || upstream == "" {
		return false, fmt.Errorf("%s/%s: %w", remote, branch, ErrBranchNotFound)
	}
	return local != upstream, nil
}

// Pull fast-forwards the work tree to the first remote's branch.
func (r *Repo) Pull(ctx context.Context, branch string) error {
	remote, err := r.firstRemote(ctx)
	if err != nil {
		return err
	}
	if _, err := r.run(ctx, "pull", "--ff-only", "--quiet", remote, branch); err != nil {
		return fmt.Errorf("pull %s %s: %w", remote, branch, err)
	}
	return nil
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.git, append([]string{"-C", r.path}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", args[0], err)
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
