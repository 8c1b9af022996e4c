package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWorkspaceProvisionAndRelease(t *testing.T) {
	base := t.TempDir()
	w := NewWorkspaces(base)

	dir, err := w.Provision("developer", "s1")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if dir != filepath.Join(base, "s1", "developer") {
		t.Errorf("unexpected layout: %s", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("workspace dir missing: %v", err)
	}

	// Provisioning twice is idempotent.
	if _, err := w.Provision("developer", "s1"); err != nil {
		t.Fatalf("re-provision: %v", err)
	}

	if err := w.Release("developer", "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("workspace should be removed after release")
	}

	// Releasing a missing workspace is not an error.
	if err := w.Release("developer", "s1"); err != nil {
		t.Errorf("double release: %v", err)
	}
}

func TestWorkspacesAreIsolatedPerRole(t *testing.T) {
	w := NewWorkspaces(t.TempDir())

	dev, _ := w.Provision("developer", "s1")
	rev, _ := w.Provision("reviewer", "s1")
	if dev == rev {
		t.Fatal("roles must not share a workspace")
	}

	if err := w.Release("developer", "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(rev); err != nil {
		t.Error("releasing one role must not touch another's workspace")
	}
}

func TestLatestMtime(t *testing.T) {
	dir := t.TempDir()

	old := time.Now().Add(-time.Hour)
	if err := os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	os.Chtimes(filepath.Join(dir, "stale.txt"), old, old)
	os.Chtimes(dir, old, old)

	got := latestMtime(dir)
	if got.After(time.Now().Add(-30 * time.Minute)) {
		t.Fatalf("expected stale mtime, got %v", got)
	}

	// New activity moves the signal forward.
	if err := os.WriteFile(filepath.Join(dir, "fresh.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got = latestMtime(dir)
	if time.Since(got) > time.Minute {
		t.Errorf("expected recent mtime, got %v", got)
	}
}

func TestLatestMtimeMissingDir(t *testing.T) {
	if got := latestMtime(filepath.Join(t.TempDir(), "nope")); !got.IsZero() {
		t.Errorf("expected zero time for missing dir, got %v", got)
	}
}
