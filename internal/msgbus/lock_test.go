package msgbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.json")

	release, err := acquireLock(path, "holder-1", time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("lock marker missing: %v", err)
	}

	release()
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Error("lock marker should be removed after release")
	}
}

func TestContentionTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.json")

	release, err := acquireLock(path, "holder-1", time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = acquireLock(path, "holder-2", 100*time.Millisecond, 10*time.Second)
	if err == nil {
		t.Fatal("expected timeout while lock held")
	}
	if faults.CodeOf(err) != faults.LockTimeout {
		t.Errorf("expected LOCK_TIMEOUT, got %v", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("gave up before the timeout elapsed")
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.json")
	lockPath := path + ".lock"

	if err := os.WriteFile(lockPath, []byte("dead-holder\n"), 0o644); err != nil {
		t.Fatalf("plant lock: %v", err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	release, err := acquireLock(path, "holder-2", time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("expected stale lock reclaimed: %v", err)
	}
	release()
}

func TestReclaimSparesFreshLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "inbox.json.lock")

	if err := os.WriteFile(lockPath, []byte("live-holder\n"), 0o644); err != nil {
		t.Fatalf("plant lock: %v", err)
	}

	// A marker whose holder is still within the stale threshold must
	// survive a reclaim attempt.
	reclaimLock(lockPath, 10*time.Second)
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("fresh lock removed by reclaim: %v", err)
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}
	reclaimLock(lockPath, 10*time.Second)
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("stale lock should be reclaimed")
	}

	// No renamed-aside debris left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("leftover file after reclaim: %s", e.Name())
	}
}

func TestSequentialAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.json")

	release1, err := acquireLock(path, "a", time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	release1()

	release2, err := acquireLock(path, "b", time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("acquire b after release: %v", err)
	}
	release2()
}
