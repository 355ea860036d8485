package accel

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// workerPIDs returns the PIDs of processes whose command line contains
// pattern. An empty pattern matches nothing.
func workerPIDs(pattern string) map[int32]bool {
	pids := make(map[int32]bool)
	if pattern == "" {
		return pids
	}
	procs, err := process.Processes()
	if err != nil {
		log.Warnf("Failed to list processes: %v", err)
		return pids
	}
	for _, proc := range procs {
		cmd, err := proc.Cmdline()
		if err != nil {
			// Raced with process exit, or not ours to inspect.
			continue
		}
		if strings.Contains(cmd, pattern) {
			pids[proc.Pid] = true
		}
	}
	return pids
}

// CountWorkers reports how many accelerator worker processes are currently
// running. Used by the device monitor.
func CountWorkers(pattern string) int {
	return len(workerPIDs(pattern))
}

// reapOrphans force-kills worker processes present now but absent from the
// baseline snapshot, and returns how many were killed. Processes that
// predate the pool are never touched, so co-located tenants on a shared
// device survive. Inherently best-effort: a worker spawned by another tenant
// after the baseline would be caught in the delta.
func reapOrphans(baseline map[int32]bool, pattern string) int {
	if pattern == "" {
		return 0
	}
	killed := 0
	for pid := range workerPIDs(pattern) {
		if baseline[pid] {
			continue
		}
		proc, err := process.NewProcess(pid)
		if err != nil {
			// Already gone.
			continue
		}
		if err := proc.Kill(); err != nil {
			log.Warnf("Failed to kill worker process %d: %v", pid, err)
			continue
		}
		log.Infof("Killed orphaned worker process %d", pid)
		killed++
	}
	return killed
}
