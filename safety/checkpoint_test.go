package safety

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/dstanton/tiller/tools"
)

func testArena(t *testing.T) (*Arena, *tools.Workspace) {
	t.Helper()
	ws, err := tools.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewArena(ws), ws
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	arena, ws := testArena(t)
	ctx := context.Background()

	original := []byte("line one\nline two\x00binary-ish\xff\n")
	if err := ws.WriteFile("target.bin", original); err != nil {
		t.Fatal(err)
	}

	id, err := arena.Snapshot(ctx, "s1", []string{"target.bin"})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if err := ws.WriteFile("target.bin", []byte("clobbered")); err != nil {
		t.Fatal(err)
	}
	if err := arena.Restore(ctx, id); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, err := ws.ReadRaw("target.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("restore not bit-identical: got %q", got)
	}
}

func TestRestoreDeletesFilesCreatedAfterSnapshot(t *testing.T) {
	arena, ws := testArena(t)
	ctx := context.Background()

	id, err := arena.Snapshot(ctx, "s1", []string{"new.txt"})
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.WriteFile("new.txt", []byte("created later")); err != nil {
		t.Fatal(err)
	}
	if err := arena.Restore(ctx, id); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if ws.FileExists("new.txt") {
		t.Error("file created after snapshot survived restore")
	}
}

func TestSnapshotIDsMonotonic(t *testing.T) {
	arena, ws := testArena(t)
	ctx := context.Background()
	if err := ws.WriteFile("a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}

	var ids []int
	for i := 0; i < 3; i++ {
		id, err := arena.Snapshot(ctx, "s1", []string{"a.txt"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}

	// Released ids are never reused.
	arena.Release(ids[2])
	id, err := arena.Snapshot(ctx, "s2", []string{"a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if id <= ids[2] {
		t.Errorf("id %d reused after release of %d", id, ids[2])
	}
}

func gitArena(t *testing.T) (*Arena, *tools.Workspace) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	arena, ws := testArena(t)
	ctx := context.Background()
	for _, args := range [][]string{
		{"git", "init", "-q"},
		{"git", "config", "user.email", "dev@example.com"},
		{"git", "config", "user.name", "dev"},
	} {
		res, err := ws.ExecArgv(ctx, args, 10000, "")
		if err != nil {
			t.Fatal(err)
		}
		if res.ExitCode != 0 {
			t.Fatalf("%v: %s", args, res.Stderr)
		}
	}
	return arena, ws
}

func gitRun(t *testing.T, ws *tools.Workspace, args ...string) {
	t.Helper()
	res, err := ws.ExecArgv(context.Background(), append([]string{"git"}, args...), 10000, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("git %v: %s", args, res.Stderr)
	}
}

func TestRefSnapshotReversesWorkingTreeChanges(t *testing.T) {
	arena, ws := gitArena(t)
	ctx := context.Background()

	// Committed baseline with one file left dirty and one untracked.
	for name, content := range map[string]string{
		"clean.txt": "clean",
		"dirty.txt": "committed",
		"gone.txt":  "keep me",
	} {
		if err := ws.WriteFile(name, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	gitRun(t, ws, "add", "-A")
	gitRun(t, ws, "commit", "-q", "-m", "base")
	if err := ws.WriteFile("dirty.txt", []byte("dirty edit")); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("note.txt", []byte("scratch")); err != nil {
		t.Fatal(err)
	}

	id, err := arena.Snapshot(ctx, "s1", []string{"."})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// The step touches everything: clean and dirty tracked files, the
	// untracked file, a deletion, and a new file.
	for name, content := range map[string]string{
		"clean.txt": "clobbered",
		"dirty.txt": "clobbered too",
		"note.txt":  "clobbered note",
		"junk.txt":  "created by the step",
	} {
		if err := ws.WriteFile(name, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.DeleteFile("gone.txt"); err != nil {
		t.Fatal(err)
	}

	if err := arena.Restore(ctx, id); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	for name, want := range map[string]string{
		"clean.txt": "clean",
		"dirty.txt": "dirty edit",
		"note.txt":  "scratch",
		"gone.txt":  "keep me",
	} {
		got, err := ws.ReadRaw(name)
		if err != nil {
			t.Errorf("%s unreadable after restore: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q after restore, want %q", name, got, want)
		}
	}
	if ws.FileExists("junk.txt") {
		t.Error("file created by the step survived restore")
	}
}

func TestSnapshotRefTargetWithoutGitFails(t *testing.T) {
	arena, _ := testArena(t)

	_, err := arena.Snapshot(context.Background(), "s1", []string{"HEAD"})
	var cfe *CheckpointFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("want CheckpointFailedError, got %v", err)
	}
	if cfe.StepID != "s1" {
		t.Errorf("StepID = %q", cfe.StepID)
	}
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	arena, _ := testArena(t)
	err := arena.Restore(context.Background(), 42)
	var rfe *RollbackFailedError
	if !errors.As(err, &rfe) {
		t.Fatalf("want RollbackFailedError, got %v", err)
	}
	if rfe.CheckpointID != 42 {
		t.Errorf("CheckpointID = %d", rfe.CheckpointID)
	}
}

func TestReleaseAndList(t *testing.T) {
	arena, ws := testArena(t)
	ctx := context.Background()
	if err := ws.WriteFile("a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}

	id1, _ := arena.Snapshot(ctx, "s1", []string{"a.txt"})
	id2, _ := arena.Snapshot(ctx, "s2", []string{"a.txt"})

	arena.Release(id1)
	cps := arena.List()
	if len(cps) != 1 || cps[0].ID != id2 {
		t.Errorf("List after release = %v", cps)
	}
	if _, ok := arena.Get(id1); ok {
		t.Error("released checkpoint still resolvable")
	}
}
