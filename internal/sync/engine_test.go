package sync

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/autopulld/internal/config"
	"github.com/schaermu/autopulld/internal/github"
	"github.com/schaermu/autopulld/internal/hook"
)

// mockProbe implements github.Probe for testing.
type mockProbe struct {
	latest      string
	latestErr   error
	verifyErr   error
	latestCalls int
}

func (m *mockProbe) LatestCommit(_ context.Context, _, _, _ string) (string, error) {
	m.latestCalls++
	return m.latest, m.latestErr
}

func (m *mockProbe) VerifyRepo(_ context.Context, _, _ string) error {
	return m.verifyErr
}

// mockGit implements git.Client for testing.
type mockGit struct {
	cloned      bool
	ensureErr   error
	local       string
	localErr    error
	updated     string
	updateErr   error
	remoteErr   error
	updateCalls int
	checkCalled bool
	calls       *[]string
}

func (m *mockGit) record(name string) {
	if m.calls != nil {
		*m.calls = append(*m.calls, name)
	}
}

func (m *mockGit) EnsureExists(_ context.Context, _, _, _ string) (bool, error) {
	m.record("ensure")
	return m.cloned, m.ensureErr
}

func (m *mockGit) CurrentCommit(_ context.Context, _ string) (string, error) {
	m.record("current")
	return m.local, m.localErr
}

func (m *mockGit) Update(_ context.Context, _, _ string) (string, error) {
	m.record("update")
	m.updateCalls++
	return m.updated, m.updateErr
}

func (m *mockGit) CheckRemote(_ context.Context, _, _ string) error {
	m.checkCalled = true
	return m.remoteErr
}

// mockRunner implements hook.Runner for testing.
type mockRunner struct {
	result         hook.Result
	runErr         error
	validateErr    error
	runCalls       int
	validateCalled bool
	calls          *[]string
}

func (m *mockRunner) Run(_ context.Context, command, _ string) (hook.Result, error) {
	m.runCalls++
	if m.calls != nil {
		*m.calls = append(*m.calls, "hook")
	}
	if command == "" {
		return hook.Result{}, nil
	}
	return m.result, m.runErr
}

func (m *mockRunner) Validate(_, _ string) error {
	m.validateCalled = true
	return m.validateErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Token:        "tok",
		Repo:         config.RepoConfig{Owner: "alice", Name: "site", URL: "https://github.com/alice/site.git"},
		Branch:       "main",
		LocalPath:    t.TempDir(),
		PostCommand:  "make deploy",
		PollInterval: config.Duration(10 * time.Millisecond),
	}
}

func TestCycle_UpToDate(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c1"}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, logger)
	res := engine.Cycle(context.Background())

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.DidUpdate {
		t.Error("expected no update when commits match")
	}
	if gitClient.updateCalls != 0 {
		t.Errorf("expected no update call, got %d", gitClient.updateCalls)
	}
	if runner.runCalls != 0 {
		t.Errorf("expected no hook invocation, got %d", runner.runCalls)
	}
	if got := strings.Count(buf.String(), "up to date"); got != 1 {
		t.Errorf("expected exactly one up-to-date record, got %d", got)
	}
}

func TestCycle_UpdateThenHook(t *testing.T) {
	var calls []string
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c0", updated: "c1", calls: &calls}
	runner := &mockRunner{result: hook.Result{Ran: true, ExitCode: 0, Output: "deployed\n"}, calls: &calls}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	res := engine.Cycle(context.Background())

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.DidUpdate {
		t.Error("expected an update")
	}
	if res.Remote != "c1" || res.Local != "c1" {
		t.Errorf("expected remote and post-update local c1, got %s/%s", res.Remote, res.Local)
	}
	if gitClient.updateCalls != 1 {
		t.Errorf("expected exactly one update call, got %d", gitClient.updateCalls)
	}
	if runner.runCalls != 1 {
		t.Errorf("expected exactly one hook invocation, got %d", runner.runCalls)
	}

	// Update must complete before the hook runs.
	want := []string{"ensure", "current", "update", "current", "hook"}
	filtered := make([]string, 0, len(calls))
	for _, c := range calls {
		if c == "update" || c == "hook" {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) != 2 || filtered[0] != "update" || filtered[1] != "hook" {
		t.Errorf("expected update before hook, got %v (full: %v, reference order %v)", filtered, calls, want)
	}
}

func TestCycle_UpdateLogsEveryStep(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c0", updated: "c1"}
	runner := &mockRunner{result: hook.Result{Ran: true, ExitCode: 0, Output: "deployed\n"}}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, logger)
	res := engine.Cycle(context.Background())

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	// An update cycle leaves one record per step: probe result, commit
	// mismatch, update success and hook exit status, in that order.
	want := []string{
		"remote commit checked",
		"new commit detected",
		"update successful",
		"post-update command completed",
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(want) {
		t.Fatalf("expected %d records, got %d:\n%s", len(want), len(lines), buf.String())
	}
	for i, msg := range want {
		if !strings.Contains(lines[i], msg) {
			t.Errorf("record %d: expected %q, got %q", i, msg, lines[i])
		}
	}
}

func TestCycle_HookFailureIsNonFatal(t *testing.T) {
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c0", updated: "c1"}
	runner := &mockRunner{
		result: hook.Result{Ran: true, ExitCode: 2, Output: "boom\n"},
		runErr: hook.ErrHookFailed,
	}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	res := engine.Cycle(context.Background())

	if res.Err != nil {
		t.Fatalf("hook failure must not fail the cycle, got %v", res.Err)
	}
	if !res.DidUpdate {
		t.Error("sync is committed before the hook runs")
	}
	if res.Hook == nil || res.Hook.ExitCode != 2 {
		t.Errorf("expected recorded hook exit 2, got %+v", res.Hook)
	}
}

func TestCycle_ProbeFailure(t *testing.T) {
	probe := &mockProbe{latestErr: github.ErrRateLimited}
	gitClient := &mockGit{}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	res := engine.Cycle(context.Background())

	if res.Err == nil {
		t.Fatal("expected cycle error")
	}
	if gitClient.updateCalls != 0 || runner.runCalls != 0 {
		t.Error("probe failure must stop the cycle before sync and hook")
	}
}

func TestCycle_UpdateFailure(t *testing.T) {
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c0", updateErr: context.DeadlineExceeded}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	res := engine.Cycle(context.Background())

	if res.Err == nil {
		t.Fatal("expected cycle error")
	}
	if res.DidUpdate {
		t.Error("failed update must not report DidUpdate")
	}
	if runner.runCalls != 0 {
		t.Error("hook must not run after a failed update")
	}
}

func TestCycle_ClonesMissingWorkingCopy(t *testing.T) {
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{cloned: true, local: "c1"}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	res := engine.Cycle(context.Background())

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	// A fresh clone already at the remote tip needs no pull.
	if res.DidUpdate || gitClient.updateCalls != 0 {
		t.Error("expected no update after clone at remote tip")
	}
}

func TestCheck_DryRunIsolation(t *testing.T) {
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c0"}
	runner := &mockRunner{}

	// LocalPath from testConfig has no git metadata, so the working copy
	// step reports the pending clone instead of reading HEAD.
	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	results := engine.Check(context.Background())

	if len(results) != 6 {
		t.Fatalf("expected 6 checks, got %d", len(results))
	}
	for _, step := range results {
		if !step.OK {
			t.Errorf("step %q failed: %s", step.Name, step.Detail)
		}
	}

	if gitClient.updateCalls != 0 {
		t.Error("testing mode must never update")
	}
	if runner.runCalls != 0 {
		t.Error("testing mode must never execute the post-update command")
	}
	if !runner.validateCalled {
		t.Error("expected hook validation")
	}
	if !gitClient.checkCalled {
		t.Error("expected remote reachability check")
	}
}

func TestCheck_ReportsFailures(t *testing.T) {
	probe := &mockProbe{verifyErr: github.ErrUnauthorized, latestErr: github.ErrUnauthorized}
	gitClient := &mockGit{}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())
	results := engine.Check(context.Background())

	failed := 0
	for _, step := range results {
		if !step.OK {
			failed++
		}
	}
	if failed < 2 {
		t.Errorf("expected access and probe steps to fail, got %d failures", failed)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	probe := &mockProbe{latest: "c1"}
	gitClient := &mockGit{local: "c1"}
	runner := &mockRunner{}

	engine := NewEngine(testConfig(t), probe, gitClient, runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		engine.Serve(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	if probe.latestCalls != 1 {
		t.Errorf("expected exactly one cycle before shutdown, got %d", probe.latestCalls)
	}
}

func TestShortSHA(t *testing.T) {
	if got := shortSHA("c1f2e3d4a5b6c7d8"); got != "c1f2e3d4" {
		t.Errorf("expected c1f2e3d4, got %s", got)
	}
	if got := shortSHA("c1"); got != "c1" {
		t.Errorf("short hashes pass through, got %s", got)
	}
}
