package safety

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dstanton/tiller/tools"
)

// CheckpointFailedError means state could not be captured before a mutating
// step. The step must be skipped, never executed unsafely.
type CheckpointFailedError struct {
	StepID string
	Cause  error
}

func (e *CheckpointFailedError) Error() string {
	return fmt.Sprintf("checkpoint failed for step %s: %v", e.StepID, e.Cause)
}

func (e *CheckpointFailedError) Unwrap() error { return e.Cause }

// RollbackFailedError means a restore did not complete. State consistency is
// no longer guaranteed; the turn is aborted and the user warned.
type RollbackFailedError struct {
	CheckpointID int
	Cause        error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of checkpoint %d failed: %v", e.CheckpointID, e.Cause)
}

func (e *RollbackFailedError) Unwrap() error { return e.Cause }

// FileSnapshot captures one file's exact content before a mutation. Existed
// distinguishes "empty file" from "no file"; restore deletes files that did
// not exist at snapshot time.
type FileSnapshot struct {
	Path    string
	Content []byte
	Existed bool
}

// RefSnapshot pins a VCS ref to the commit it pointed at.
type RefSnapshot struct {
	Ref  string
	Hash string
}

// Checkpoint is one recoverable capture, keyed by a monotonically increasing
// id and the plan step it guards.
type Checkpoint struct {
	ID        int
	StepID    string
	Targets   []string
	Files     []FileSnapshot
	Refs      []RefSnapshot
	CreatedAt time.Time
}

// Arena owns all checkpoints for a session. Checkpoints are indexed by id;
// callers hold ids, never live filesystem handles.
type Arena struct {
	ws *tools.Workspace

	mu          sync.Mutex
	nextID      int
	checkpoints map[int]*Checkpoint
	order       []int

	now func() time.Time
}

// NewArena creates an empty checkpoint arena over the workspace.
func NewArena(ws *tools.Workspace) *Arena {
	return &Arena{
		ws:          ws,
		nextID:      1,
		checkpoints: make(map[int]*Checkpoint),
		now:         time.Now,
	}
}

// Snapshot captures every target before a mutating step. File targets are
// stored byte for byte. The targets "HEAD" and "." pin the current commit and
// additionally capture every dirty or untracked file, so a step that can
// touch anything in the tree is still fully reversible. In a workspace
// without version control such targets cannot be captured and the snapshot
// fails rather than proceeding with partial coverage.
func (a *Arena) Snapshot(ctx context.Context, stepID string, targets []string) (int, error) {
	cp := &Checkpoint{
		StepID:  stepID,
		Targets: append([]string(nil), targets...),
	}
	captured := make(map[string]bool)

	snapshotFile := func(path string) error {
		if captured[path] {
			return nil
		}
		content, err := a.ws.ReadRaw(path)
		switch {
		case err == nil:
			cp.Files = append(cp.Files, FileSnapshot{Path: path, Content: content, Existed: true})
		case os.IsNotExist(err):
			cp.Files = append(cp.Files, FileSnapshot{Path: path, Existed: false})
		default:
			return err
		}
		captured[path] = true
		return nil
	}

	for _, target := range targets {
		if target == "HEAD" || target == "." {
			hash := tools.GitHead(ctx, a.ws)
			if hash == "" {
				return 0, &CheckpointFailedError{
					StepID: stepID,
					Cause:  fmt.Errorf("target %q requires version control and none is available", target),
				}
			}
			cp.Refs = append(cp.Refs, RefSnapshot{Ref: "HEAD", Hash: hash})
			for _, entry := range tools.GitStatusEntries(ctx, a.ws) {
				if err := snapshotFile(entry.Path); err != nil {
					return 0, &CheckpointFailedError{StepID: stepID, Cause: err}
				}
			}
			continue
		}

		if err := snapshotFile(target); err != nil {
			return 0, &CheckpointFailedError{StepID: stepID, Cause: err}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	cp.ID = a.nextID
	a.nextID++
	cp.CreatedAt = a.now()
	a.checkpoints[cp.ID] = cp
	a.order = append(a.order, cp.ID)
	return cp.ID, nil
}

// Restore puts every captured target back to its snapshot state. Pinned refs
// are reset first, then files are rewritten byte for byte and files absent at
// snapshot time deleted. For ref checkpoints a final status scan reverses
// what the step did to paths that were clean at snapshot time: files it
// created are removed, files it changed or deleted are checked out from the
// pinned commit.
func (a *Arena) Restore(ctx context.Context, id int) error {
	a.mu.Lock()
	cp, ok := a.checkpoints[id]
	a.mu.Unlock()
	if !ok {
		return &RollbackFailedError{CheckpointID: id, Cause: fmt.Errorf("unknown checkpoint")}
	}

	for _, rs := range cp.Refs {
		if err := tools.GitResetMixed(ctx, a.ws, rs.Hash); err != nil {
			return &RollbackFailedError{CheckpointID: id, Cause: err}
		}
	}

	snapshotted := make(map[string]bool, len(cp.Files))
	for _, fs := range cp.Files {
		snapshotted[fs.Path] = true
		if fs.Existed {
			if err := a.ws.WriteFile(fs.Path, fs.Content); err != nil {
				return &RollbackFailedError{CheckpointID: id, Cause: err}
			}
			continue
		}
		if a.ws.FileExists(fs.Path) {
			if err := a.ws.DeleteFile(fs.Path); err != nil {
				return &RollbackFailedError{CheckpointID: id, Cause: err}
			}
		}
	}

	for _, rs := range cp.Refs {
		var checkout []string
		for _, entry := range tools.GitStatusEntries(ctx, a.ws) {
			if snapshotted[entry.Path] {
				continue
			}
			if entry.Untracked() {
				if err := a.ws.DeleteFile(entry.Path); err != nil {
					return &RollbackFailedError{CheckpointID: id, Cause: err}
				}
				continue
			}
			checkout = append(checkout, entry.Path)
		}
		if err := tools.GitCheckoutPaths(ctx, a.ws, rs.Hash, checkout...); err != nil {
			return &RollbackFailedError{CheckpointID: id, Cause: err}
		}
	}

	return nil
}

// Release drops a checkpoint that is no longer needed.
func (a *Arena) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.checkpoints[id]; !ok {
		return
	}
	delete(a.checkpoints, id)
	for i, oid := range a.order {
		if oid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Get returns a checkpoint by id.
func (a *Arena) Get(id int) (*Checkpoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp, ok := a.checkpoints[id]
	return cp, ok
}

// List returns retained checkpoints oldest first.
func (a *Arena) List() []*Checkpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Checkpoint, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.checkpoints[id])
	}
	return out
}

// Describe summarizes one checkpoint for listings.
func (cp *Checkpoint) Describe() string {
	return fmt.Sprintf("#%d step=%s targets=%s at=%s",
		cp.ID, cp.StepID, strings.Join(cp.Targets, ","), cp.CreatedAt.Format(time.RFC3339))
}
