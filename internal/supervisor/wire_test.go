//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autowatch/internal/config"
	"autowatch/internal/gitrepo"
	"autowatch/internal/runner"
)

func TestOpenGitRepo_NotARepository(t *testing.T) {
	_, err := OpenGitRepo(context.Background(), t.TempDir())
	if !errors.Is(err, gitrepo.ErrNotRepository) {
		t.Fatalf("want ErrNotRepository, got %v", err)
	}
}

func TestRunnerStarter_RunsScriptFromRepoPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte("pwd\necho oops >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s := RunnerStarter{Runner: runner.New()}
	script, err := s.Start(context.Background(), config.Project{Name: "web", RepoPath: dir, Script: "run.sh"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if exited, code := script.Poll(); exited {
			if code != 3 {
				t.Fatalf("exit code: %d", code)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("script did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stdout, stderr := script.Output()
	realDir, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(stdout, realDir) && !strings.Contains(stdout, dir) {
		t.Fatalf("script cwd not the repo path: %q", stdout)
	}
	if strings.TrimSpace(stderr) != "oops" {
		t.Fatalf("stderr: %q", stderr)
	}
}
