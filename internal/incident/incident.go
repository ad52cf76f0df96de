// Package incident records script and pull failures as log files and GitHub issues.
package incident

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autowatch/internal/config"
	"autowatch/internal/github"
	"autowatch/internal/output"

	"go.uber.org/zap"
)

const stampLayout = "20060102_150405"

// Label is applied to every issue filed for an incident.
const Label = "bug"

// SaveLog writes stdout and stderr to <dir>/<project>_<YYYYmmdd_HHMMSS>.log
// and returns the file name.
func SaveLog(dir, project, stdout, stderr string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", project, now.Format(stampLayout))
	var b strings.Builder
	fmt.Fprintf(&b, "--- STDOUT ---\n%s\n", stdout)
	fmt.Fprintf(&b, "--- STDERR ---\n%s\n", stderr)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write incident log: %w", err)
	}
	return name, nil
}

// Body renders the Markdown issue body for a failed run.
func Body(project, logName, stdout, stderr string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error starting script for %s.\n\n", project)
	fmt.Fprintf(&b, "Log file: `%s`\n\n", logName)
	fmt.Fprintf(&b, "--- STDOUT ---\n```\n%s```\n\n", stdout)
	fmt.Fprintf(&b, "--- STDERR ---\n```\n%s```", stderr)
	return b.String()
}

// IssueCreator is satisfied by *github.Client.
type IssueCreator interface {
	CreateIssue(ctx context.Context, repo string, issue github.Issue) (string, error)
}

type Reporter struct {
	dir    string
	issues IssueCreator
	events output.Emitter
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Reporter)

func WithEvents(e output.Emitter) Option {
	return func(r *Reporter) { r.events = e }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter writes logs to dir. A nil issues disables issue creation.
func NewReporter(dir string, issues IssueCreator, opts ...Option) *Reporter {
	r := &Reporter{dir: dir, issues: issues, logger: zap.NewNop(), now: time.Now}
	for _, apply := range opts {
		if apply != nil {
			apply(r)
		}
	}
	return r
}

// Report saves the incident log and files an issue on the project's GitHub
// repository. The returned URL is empty when no issue was created.
func (r *Reporter) Report(ctx context.Context, p config.Project, title, stdout, stderr string) (string, error) {
	logName, err := SaveLog(r.dir, p.Name, stdout, stderr, r.now())
	if err != nil {
		return "", err
	}
	r.logger.Info("incident log saved", zap.String("project", p.Name), zap.String("file", logName))

	if r.issues == nil {
		r.logger.Warn("GITHUB_TOKEN not set, cannot create issue", zap.String("project", p.Name))
		return "", nil
	}
	if p.GitHubRepo == "" {
		r.logger.Warn("no github_repo configured, cannot create issue", zap.String("project", p.Name))
		return "", nil
	}

	url, err := r.issues.CreateIssue(ctx, p.GitHubRepo, github.Issue{
		Title:  title,
		Body:   Body(p.Name, logName, stdout, stderr),
		Labels: []string{Label},
	})
	if err != nil {
		return "", fmt.Errorf("create github issue for %s: %w", p.Name, err)
	}
	r.logger.Info("github issue created", zap.String("project", p.Name), zap.String("url", url))
	if r.events != nil {
		if err := r.events.Emit(output.Event{Type: output.EventIssueCreated, Project: p.Name, URL: url}); err != nil {
			r.logger.Warn("emit event failed", zap.Error(err))
		}
	}
	return url, nil
}
