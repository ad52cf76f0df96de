package supervisor

import (
	"context"

	"autowatch/internal/config"
	"autowatch/internal/gitrepo"
	"autowatch/internal/runner"
)

// OpenGitRepo opens path with the git CLI.
func OpenGitRepo(ctx context.Context, path string) (Repo, error) {
	r, err := gitrepo.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RunnerStarter starts project scripts from their repository directory.
type RunnerStarter struct {
	Runner *runner.Runner
}

func (s RunnerStarter) Start(ctx context.Context, p config.Project) (Script, error) {
	r := s.Runner
	if r == nil {
		r = runner.New()
	}
	h, err := r.Start(ctx, p.RepoPath, p.ScriptPath())
	if err != nil {
		return nil, err
	}
	return h, nil
}
