package agentloop

import (
	"context"
	"sync"
	"time"

	"github.com/dstanton/tiller/tools"
)

// Snapshot is the immutable per-turn view of the repository and recent
// activity. Built once by the perceive phase, read-only afterwards, discarded
// at loop end.
type Snapshot struct {
	WorkingDir    string
	Branch        string
	ModifiedFiles []string
	DiffSummary   string
	RecentActions []string
	Partial       bool // set when a collaborator timed out during perception
}

// actionRing is a bounded ring of recent action descriptions carried across
// turns within a session.
type actionRing struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

func newActionRing(size int) *actionRing {
	if size <= 0 {
		size = 20
	}
	return &actionRing{entries: make([]string, size)}
}

// Add records one action description, evicting the oldest when full.
func (r *actionRing) Add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// All returns the retained entries oldest first.
func (r *actionRing) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	if r.full {
		out = append(out, r.entries[r.next:]...)
	}
	out = append(out, r.entries[:r.next]...)
	result := make([]string, 0, len(out))
	for _, e := range out {
		if e != "" {
			result = append(result, e)
		}
	}
	return result
}

// perceive builds the snapshot. Each VCS call gets its own timeout; a slow or
// absent collaborator degrades that field to empty instead of failing the
// turn.
func perceive(ctx context.Context, ws *tools.Workspace, ring *actionRing, timeout time.Duration) Snapshot {
	snap := Snapshot{
		WorkingDir:    ws.Root(),
		RecentActions: ring.All(),
	}

	branchCtx, cancel := context.WithTimeout(ctx, timeout)
	snap.Branch = tools.GitBranch(branchCtx, ws)
	cancel()
	if branchCtx.Err() == context.DeadlineExceeded {
		snap.Partial = true
	}
	if snap.Branch == "" {
		// Not a repository, or the call degraded; either way the remaining
		// VCS fields would also come up empty.
		return snap
	}

	filesCtx, cancel := context.WithTimeout(ctx, timeout)
	snap.ModifiedFiles = tools.GitModifiedFiles(filesCtx, ws)
	if filesCtx.Err() == context.DeadlineExceeded {
		snap.Partial = true
	}
	cancel()

	diffCtx, cancel := context.WithTimeout(ctx, timeout)
	snap.DiffSummary = tools.GitDiffStat(diffCtx, ws)
	if diffCtx.Err() == context.DeadlineExceeded {
		snap.Partial = true
	}
	cancel()

	return snap
}
