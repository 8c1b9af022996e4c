package msgbus

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/cbriice/claude-swarm-sub001/internal/faults"
)

// acquireLock takes the advisory lock for a queue file by creating a marker
// file exclusively. The marker records the holder and acquisition time. On
// contention it polls with a short jittered delay; a marker older than the
// stale threshold is treated as abandoned and reclaimed.
func acquireLock(queuePath, holder string, timeout, stale time.Duration) (release func(), err error) {
	lockPath := queuePath + ".lock"
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%s %s\n", holder, time.Now().Format(time.RFC3339Nano))
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > stale {
			// Holder likely died; reclaim and race for the new lock.
			reclaimLock(lockPath, stale)
			continue
		}

		if time.Now().After(deadline) {
			return nil, faults.New(faults.LockTimeout).
				WithComponent("msgbus").
				WithContext(map[string]any{"queue": queuePath, "holder": holder})
		}

		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// reclaimLock removes an abandoned marker. The marker is renamed aside
// before deletion so only one of several contenders that observed the same
// stale marker reclaims it; the rest lose the rename and go back to
// polling. Staleness is re-checked right before the rename in case the
// marker was already reclaimed and rewritten by a fresh holder.
func reclaimLock(lockPath string, stale time.Duration) {
	info, err := os.Stat(lockPath)
	if err != nil || time.Since(info.ModTime()) <= stale {
		return
	}
	aside := fmt.Sprintf("%s.%d.stale", lockPath, rand.Int63())
	if err := os.Rename(lockPath, aside); err != nil {
		return
	}
	os.Remove(aside)
}
