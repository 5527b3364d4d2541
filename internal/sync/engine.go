package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/autopulld/internal/config"
	"github.com/schaermu/autopulld/internal/git"
	"github.com/schaermu/autopulld/internal/github"
	"github.com/schaermu/autopulld/internal/hook"
)

// Engine orchestrates the probe/compare/pull/hook sequence
type Engine struct {
	cfg    *config.Config
	probe  github.Probe
	git    git.Client
	hook   hook.Runner
	logger *slog.Logger
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, probe github.Probe, gitClient git.Client, runner hook.Runner, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		probe:  probe,
		git:    gitClient,
		hook:   runner,
		logger: logger,
	}
}

// Cycle performs one probe/compare/sync pass. Every failure is logged and
// captured in the result; nothing is retried within the cycle. A hook
// failure never marks the cycle failed because the sync is already complete
// when the hook runs.
func (e *Engine) Cycle(ctx context.Context) CycleResult {
	var res CycleResult

	remote, err := e.probe.LatestCommit(ctx, e.cfg.Repo.Owner, e.cfg.Repo.Name, e.cfg.Branch)
	if err != nil {
		e.logger.Error("failed to check remote commit", "repo", e.cfg.Slug(), "branch", e.cfg.Branch, "error", err)
		res.Err = err
		return res
	}
	res.Remote = remote
	e.logger.Info("remote commit checked", "branch", e.cfg.Branch, "commit", shortSHA(remote))

	cloned, err := e.git.EnsureExists(ctx, e.cfg.Repo.URL, e.cfg.Branch, e.cfg.LocalPath)
	if err != nil {
		e.logger.Error("failed to ensure working copy", "path", e.cfg.LocalPath, "error", err)
		res.Err = err
		return res
	}
	if cloned {
		e.logger.Info("cloned repository", "repo", e.cfg.Slug(), "path", e.cfg.LocalPath)
	}

	local, err := e.git.CurrentCommit(ctx, e.cfg.LocalPath)
	if err != nil {
		e.logger.Error("failed to read local commit", "path", e.cfg.LocalPath, "error", err)
		res.Err = err
		return res
	}
	res.Local = local

	if local == remote {
		e.logger.Info("up to date", "commit", shortSHA(remote))
		return res
	}

	e.logger.Info("new commit detected", "local", shortSHA(local), "remote", shortSHA(remote))

	updated, err := e.git.Update(ctx, e.cfg.LocalPath, e.cfg.Branch)
	if err != nil {
		e.logger.Error("update failed", "path", e.cfg.LocalPath, "error", err)
		res.Err = err
		return res
	}
	res.DidUpdate = true
	res.Local = updated
	e.logger.Info("update successful", "commit", shortSHA(updated))

	hookRes, hookErr := e.hook.Run(ctx, e.cfg.PostCommand, e.cfg.LocalPath)
	res.Hook = &hookRes
	if hookRes.Ran {
		if hookErr != nil {
			e.logger.Error("post-update command failed", "command", e.cfg.PostCommand, "exit_code", hookRes.ExitCode, "error", hookErr)
		} else {
			e.logger.Info("post-update command completed", "command", e.cfg.PostCommand, "exit_code", hookRes.ExitCode)
		}
	}

	return res
}

// Serve repeats Cycle at the configured interval until the context is
// cancelled. Failed cycles only cost the one interval; the interval never
// changes with failure history.
func (e *Engine) Serve(ctx context.Context) {
	e.logger.Info("starting service mode",
		"repo", e.cfg.Slug(),
		"branch", e.cfg.Branch,
		"interval", e.cfg.Interval().String())

	for {
		e.Cycle(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("service stopped")
			return
		case <-time.After(e.cfg.Interval()):
		}
	}
}

// Check runs every collaborator in dry-run form for testing mode. It never
// clones, never updates and never executes the post-update command.
func (e *Engine) Check(ctx context.Context) []StepResult {
	results := make([]StepResult, 0, 6)

	step := StepResult{Name: "repository access"}
	if err := e.probe.VerifyRepo(ctx, e.cfg.Repo.Owner, e.cfg.Repo.Name); err != nil {
		step.Detail = err.Error()
	} else {
		step.OK = true
		step.Detail = e.cfg.Slug()
	}
	results = append(results, step)

	var remote string
	step = StepResult{Name: "remote commit"}
	if sha, err := e.probe.LatestCommit(ctx, e.cfg.Repo.Owner, e.cfg.Repo.Name, e.cfg.Branch); err != nil {
		step.Detail = err.Error()
	} else {
		remote = sha
		step.OK = true
		step.Detail = shortSHA(sha)
	}
	results = append(results, step)

	var local string
	step = StepResult{Name: "working copy"}
	if !git.IsRepo(e.cfg.LocalPath) {
		step.OK = true
		step.Detail = fmt.Sprintf("no working copy at %s yet, service mode would clone", e.cfg.LocalPath)
	} else if sha, err := e.git.CurrentCommit(ctx, e.cfg.LocalPath); err != nil {
		step.Detail = err.Error()
	} else {
		local = sha
		step.OK = true
		step.Detail = "HEAD at " + shortSHA(sha)
	}
	results = append(results, step)

	step = StepResult{Name: "update check"}
	switch {
	case remote == "" || local == "":
		step.OK = true
		step.Detail = "skipped, commits not comparable"
	case remote == local:
		step.OK = true
		step.Detail = "up to date"
	default:
		step.OK = true
		step.Detail = fmt.Sprintf("update pending (%s -> %s)", shortSHA(local), shortSHA(remote))
	}
	results = append(results, step)

	step = StepResult{Name: "remote reachability"}
	if err := e.git.CheckRemote(ctx, e.cfg.Repo.URL, e.cfg.Branch); err != nil {
		step.Detail = err.Error()
	} else {
		step.OK = true
		step.Detail = e.cfg.Repo.URL
	}
	results = append(results, step)

	step = StepResult{Name: "post-update command"}
	if err := e.hook.Validate(e.cfg.PostCommand, e.cfg.LocalPath); err != nil {
		step.Detail = err.Error()
	} else if e.cfg.PostCommand == "" {
		step.OK = true
		step.Detail = "none configured"
	} else {
		step.OK = true
		step.Detail = e.cfg.PostCommand
	}
	results = append(results, step)

	return results
}

// shortSHA abbreviates a commit hash for log output
func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
