package sync

import "github.com/schaermu/autopulld/internal/hook"

// CycleResult describes one service-mode iteration. It is ephemeral: the
// engine uses it for logging and tests, nothing persists it.
type CycleResult struct {
	DidUpdate bool
	Remote    string // latest remote commit, when the probe succeeded
	Local     string // local HEAD observed (post-update when DidUpdate)
	Hook      *hook.Result
	Err       error // first fatal-for-this-cycle error; hook failure excluded
}

// StepResult describes one testing-mode check
type StepResult struct {
	Name   string
	OK     bool
	Detail string
}
