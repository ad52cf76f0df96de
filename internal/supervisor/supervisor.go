// Package supervisor keeps each watched project's script running and restarts
// it when its repository receives new commits.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autowatch/internal/config"
	"autowatch/internal/metrics"
	"autowatch/internal/output"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultStopGrace is how long a script gets to exit before it is killed.
const DefaultStopGrace = 10 * time.Second

// Repo is a git work tree.
type Repo interface {
	HasNewCommit(ctx context.Context, branch string) (bool, error)
	Pull(ctx context.Context, branch string) error
}

// Script is a started run script.
type Script interface {
	Poll() (exited bool, code int)
	Output() (stdout, stderr string)
	Stop(ctx context.Context, grace time.Duration) error
}

type Starter interface {
	Start(ctx context.Context, p config.Project) (Script, error)
}

// Killer stops processes that match a name, including ones we did not start.
type Killer interface {
	Stop(ctx context.Context, pattern string) (int, error)
}

type Reporter interface {
	Report(ctx context.Context, p config.Project, title, stdout, stderr string) (string, error)
}

type Deps struct {
	OpenRepo func(ctx context.Context, path string) (Repo, error)
	Starter  Starter
	Killer   Killer
	Reporter Reporter
	Events   output.Emitter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time

	// Ready, if set, is called once every script has been started.
	Ready func()

	StopGrace time.Duration
}

// ProjectStatus is a point-in-time view of one project.
type ProjectStatus struct {
	Name         string    `json:"name"`
	RepoPath     string    `json:"repo_path"`
	Branch       string    `json:"branch"`
	Status       string    `json:"status"`
	ScriptStatus string    `json:"script_status"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	Running      bool      `json:"running"`
	StartTime    time.Time `json:"start_time,omitzero"`
	LastFetch    time.Time `json:"last_fetch,omitzero"`
	LastUpdate   time.Time `json:"last_update,omitzero"`
}

type projectState struct {
	project config.Project

	repoStatus   string
	scriptStatus string
	retryCount   int
	lastRetry    time.Time
	startTime    time.Time
	lastFetch    time.Time
	lastUpdate   time.Time
	script       Script
}

// repoGroup holds the projects sharing one work tree. The first project's
// branch and fetch time drive the group.
type repoGroup struct {
	path     string
	repo     Repo
	projects []*projectState
}

type fetchResult struct {
	openErr  error
	fetchErr error
	changed  bool
	pullErr  error
}

type incidentReport struct {
	project config.Project
	kind    string
	title   string
	stdout  string
	stderr  string
}

type Supervisor struct {
	cfg  config.Watch
	deps Deps

	mu       sync.RWMutex
	order    []*projectState
	groups   []*repoGroup
	started  bool
	stopping bool
}

func New(cfg config.Watch, deps Deps) (*Supervisor, error) {
	if deps.Starter == nil {
		return nil, errors.New("supervisor: starter is required")
	}
	if deps.OpenRepo == nil {
		return nil, errors.New("supervisor: repository opener is required")
	}
	if len(cfg.Projects) == 0 {
		return nil, errors.New("supervisor: no projects configured")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StopGrace <= 0 {
		deps.StopGrace = DefaultStopGrace
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	s := &Supervisor{cfg: cfg, deps: deps}
	byPath := make(map[string]*repoGroup)
	for _, p := range cfg.Projects {
		st := &projectState{project: p, repoStatus: StatusStarting, scriptStatus: ScriptStarting}
		s.order = append(s.order, st)
		g, ok := byPath[p.RepoPath]
		if !ok {
			g = &repoGroup{path: p.RepoPath}
			byPath[p.RepoPath] = g
			s.groups = append(s.groups, g)
		}
		g.projects = append(g.projects, st)
	}
	return s, nil
}

// Run starts every project, then ticks until ctx is done and stops all scripts.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.deps.Logger
	log.Info("watch started", zap.Int("projects", len(s.order)), zap.Int("repos", len(s.groups)))
	s.emit(output.Event{Type: output.EventWatchStarted, Message: fmt.Sprintf("Watching %d projects", len(s.order))})

	s.StartAll(ctx)
	if s.deps.Ready != nil {
		s.deps.Ready()
	}

	interval := s.cfg.Tick
	if interval <= 0 {
		interval = config.DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Warn("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

// StartAll starts every project's script once.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	now := s.deps.Now()
	for _, st := range s.order {
		s.start(ctx, st, now, "")
	}
}

// Tick runs one supervision pass: remote checks for repositories that are
// due, then a script check for every project. It returns only ctx errors.
func (s *Supervisor) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.deps.Now()

	due := s.dueGroups(now)
	results, err := s.fetch(ctx, due)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var (
		events    []output.Event
		incidents []incidentReport
	)
	for i, g := range due {
		ev, inc := s.applyFetch(ctx, g, results[i], now)
		events = append(events, ev...)
		incidents = append(incidents, inc...)
	}
	for _, st := range s.order {
		if inc, ok := s.checkScript(ctx, st, now); ok {
			incidents = append(incidents, inc)
		}
		st.lastUpdate = now
		events = append(events, statusEvent(st, now))
		s.deps.Metrics.SetUp(st.project.Name, st.scriptStatus == ScriptRunning || st.scriptStatus == ScriptStartingUp)
	}
	s.mu.Unlock()

	for _, inc := range incidents {
		s.report(ctx, inc)
	}
	for _, e := range events {
		s.emit(e)
	}
	s.emit(output.Event{Type: output.EventTickFinished, Time: now})
	s.deps.Metrics.Tick()
	return nil
}

func (s *Supervisor) dueGroups(now time.Time) []*repoGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*repoGroup
	for _, g := range s.groups {
		lead := g.projects[0]
		if lead.lastFetch.IsZero() || now.Sub(lead.lastFetch) > s.cfg.FetchInterval {
			lead.lastFetch = now
			due = append(due, g)
		}
	}
	return due
}

// fetch checks every due repository concurrently. Per-repository failures are
// part of the results; only ctx cancellation fails the whole fetch.
func (s *Supervisor) fetch(ctx context.Context, due []*repoGroup) ([]fetchResult, error) {
	results := make([]fetchResult, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, grp := range due {
		g.Go(func() error {
			results[i] = s.fetchOne(gctx, grp)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Supervisor) fetchOne(ctx context.Context, g *repoGroup) fetchResult {
	if g.repo == nil {
		repo, err := s.deps.OpenRepo(ctx, g.path)
		if err != nil {
			return fetchResult{openErr: err}
		}
		g.repo = repo
	}
	branch := g.projects[0].project.Branch
	changed, err := g.repo.HasNewCommit(ctx, branch)
	if err != nil {
		return fetchResult{fetchErr: err}
	}
	if !changed {
		return fetchResult{}
	}
	return fetchResult{changed: true, pullErr: g.repo.Pull(ctx, branch)}
}

func (s *Supervisor) applyFetch(ctx context.Context, g *repoGroup, r fetchResult, now time.Time) ([]output.Event, []incidentReport) {
	log := s.deps.Logger.With(zap.String("repo", g.path))
	lead := g.projects[0].project

	switch {
	case r.openErr != nil:
		log.Warn("open repository failed", zap.Error(r.openErr))
		s.deps.Metrics.FetchFailed(g.path)
		setRepoStatus(g, StatusRepoUnavailable)
		return nil, nil

	case r.fetchErr != nil:
		// A failed remote check leaves the scripts alone.
		log.Warn("check for new commits failed", zap.String("branch", lead.Branch), zap.Error(r.fetchErr))
		s.deps.Metrics.FetchFailed(g.path)
		setRepoStatus(g, StatusWatching)
		return nil, nil

	case r.changed && r.pullErr != nil:
		log.Error("pull failed", zap.String("project", lead.Name), zap.Error(r.pullErr))
		s.deps.Metrics.Pulled(g.path, false)
		setRepoStatus(g, StatusErrorPulling)
		return nil, []incidentReport{{
			project: lead,
			kind:    kindPull,
			title:   "Failed to pull changes",
			stdout:  r.pullErr.Error(),
		}}

	case r.changed:
		log.Info("pulled new commits", zap.String("branch", lead.Branch))
		s.deps.Metrics.Pulled(g.path, true)
		var events []output.Event
		for _, st := range g.projects {
			st.repoStatus = StatusRestarting
			events = append(events, statusEvent(st, now))
			s.restartForCommit(ctx, st, now)
		}
		return events, nil
	}

	setRepoStatus(g, StatusWatching)
	return nil, nil
}

func setRepoStatus(g *repoGroup, status string) {
	for _, st := range g.projects {
		st.repoStatus = status
	}
}

func (s *Supervisor) restartForCommit(ctx context.Context, st *projectState, now time.Time) {
	p := st.project
	if st.script != nil {
		if exited, _ := st.script.Poll(); !exited {
			if err := st.script.Stop(ctx, s.deps.StopGrace); err != nil {
				s.deps.Logger.Warn("stop script failed", zap.String("project", p.Name), zap.Error(err))
			}
		}
	}
	if p.ProcessName != "" && s.deps.Killer != nil {
		if n, err := s.deps.Killer.Stop(ctx, p.ProcessName); err != nil {
			s.deps.Logger.Warn("stop process failed", zap.String("project", p.Name), zap.String("process", p.ProcessName), zap.Error(err))
		} else if n > 0 {
			s.deps.Logger.Info("process stopped", zap.String("project", p.Name), zap.String("process", p.ProcessName), zap.Int("count", n))
		}
	}
	s.start(ctx, st, now, "commit")
	st.retryCount = 0
}

// checkScript advances one project's script status and returns an incident
// when one must be filed.
func (s *Supervisor) checkScript(ctx context.Context, st *projectState, now time.Time) (incidentReport, bool) {
	p := st.project

	if st.script == nil {
		if st.retryCount >= p.MaxRetries {
			st.scriptStatus = ScriptMaxRetries
			return incidentReport{}, false
		}
		if now.Sub(st.lastRetry) > p.RetryDelay {
			st.scriptStatus = stoppedRetrying(st.retryCount+1, p.MaxRetries)
			s.retry(ctx, st, now, "stopped")
		} else {
			st.scriptStatus = ScriptStoppedWaiting
		}
		return incidentReport{}, false
	}

	exited, code := st.script.Poll()
	if !exited {
		if now.Sub(st.startTime) > p.StartupPeriod {
			st.scriptStatus = ScriptRunning
			st.retryCount = 0
		} else {
			st.scriptStatus = ScriptStartingUp
		}
		return incidentReport{}, false
	}

	switch {
	case now.Sub(st.startTime) < p.StartupPeriod:
		if st.scriptStatus == ScriptStartupFailure {
			return incidentReport{}, false
		}
		st.scriptStatus = ScriptStartupFailure
		s.deps.Logger.Warn("script exited during startup", zap.String("project", p.Name), zap.Int("exit_code", code))
		stdout, stderr := st.script.Output()
		return incidentReport{project: p, kind: kindStartupFailure, title: "Startup Failure: " + p.Name, stdout: stdout, stderr: stderr}, true

	case code != 0:
		if st.retryCount < p.MaxRetries {
			if now.Sub(st.lastRetry) > p.RetryDelay {
				st.scriptStatus = crashedRetrying(st.retryCount+1, p.MaxRetries)
				s.deps.Logger.Warn("script crashed, retrying", zap.String("project", p.Name), zap.Int("exit_code", code), zap.Int("attempt", st.retryCount+1))
				s.retry(ctx, st, now, "crash")
			} else {
				st.scriptStatus = ScriptCrashWaiting
			}
			return incidentReport{}, false
		}
		if st.scriptStatus == ScriptMaxRetries {
			return incidentReport{}, false
		}
		st.scriptStatus = ScriptMaxRetries
		s.deps.Logger.Error("script failed after retries", zap.String("project", p.Name), zap.Int("exit_code", code))
		stdout, stderr := st.script.Output()
		return incidentReport{project: p, kind: kindCrash, title: "Crash after retries: " + p.Name, stdout: stdout, stderr: stderr}, true

	default:
		s.deps.Logger.Info("script stopped", zap.String("project", p.Name))
		st.scriptStatus = ScriptStopped
		st.script = nil
		return incidentReport{}, false
	}
}

func (s *Supervisor) retry(ctx context.Context, st *projectState, now time.Time, reason string) {
	s.start(ctx, st, now, reason)
	st.retryCount++
	st.lastRetry = now
}

func (s *Supervisor) start(ctx context.Context, st *projectState, now time.Time, reason string) {
	p := st.project
	st.startTime = now
	script, err := s.deps.Starter.Start(ctx, p)
	if err != nil {
		s.deps.Logger.Error("start script failed", zap.String("project", p.Name), zap.String("script", p.ScriptPath()), zap.Error(err))
		st.script = nil
		return
	}
	st.script = script
	if reason != "" {
		s.deps.Metrics.Restarted(p.Name, reason)
	}
	s.deps.Logger.Info("script started", zap.String("project", p.Name), zap.String("script", p.ScriptPath()))
}

func (s *Supervisor) report(ctx context.Context, inc incidentReport) {
	s.deps.Metrics.Incident(inc.project.Name, inc.kind)
	if s.deps.Reporter == nil {
		return
	}
	if _, err := s.deps.Reporter.Report(ctx, inc.project, inc.title, inc.stdout, inc.stderr); err != nil {
		s.deps.Logger.Error("report incident failed", zap.String("project", inc.project.Name), zap.String("title", inc.title), zap.Error(err))
	}
}

// Shutdown stops every running script. It is safe to call more than once.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.stopping = true

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.StopGrace+time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, st := range s.order {
		if st.script == nil {
			continue
		}
		wg.Add(1)
		go func(st *projectState) {
			defer wg.Done()
			if err := st.script.Stop(ctx, s.deps.StopGrace); err != nil {
				s.deps.Logger.Warn("stop script failed", zap.String("project", st.project.Name), zap.Error(err))
			}
		}(st)
	}
	wg.Wait()

	for _, st := range s.order {
		st.script = nil
		st.scriptStatus = ScriptStopped
		s.deps.Metrics.SetUp(st.project.Name, false)
	}
	s.deps.Logger.Info("watch stopped")
	s.emit(output.Event{Type: output.EventWatchStopped, Message: "Stopped all scripts"})
}

// Snapshot returns the current status of every project in configuration order.
func (s *Supervisor) Snapshot() []ProjectStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProjectStatus, 0, len(s.order))
	for _, st := range s.order {
		running := false
		if st.script != nil {
			exited, _ := st.script.Poll()
			running = !exited
		}
		out = append(out, ProjectStatus{
			Name:         st.project.Name,
			RepoPath:     st.project.RepoPath,
			Branch:       st.project.Branch,
			Status:       st.repoStatus,
			ScriptStatus: st.scriptStatus,
			RetryCount:   st.retryCount,
			MaxRetries:   st.project.MaxRetries,
			Running:      running,
			StartTime:    st.startTime,
			LastFetch:    st.lastFetch,
			LastUpdate:   st.lastUpdate,
		})
	}
	return out
}

func statusEvent(st *projectState, now time.Time) output.Event {
	return output.Event{
		Type:         output.EventProjectStatus,
		Time:         now,
		Project:      st.project.Name,
		Status:       st.repoStatus,
		ScriptStatus: st.scriptStatus,
	}
}

func (s *Supervisor) emit(e output.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Emit(e); err != nil {
		s.deps.Logger.Warn("emit event failed", zap.String("type", e.Type), zap.Error(err))
	}
}
