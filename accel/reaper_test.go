package accel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWorkerPIDsFindsSelf(t *testing.T) {
	// The test binary's own command line contains its binary name.
	pattern := filepath.Base(os.Args[0])
	pids := workerPIDs(pattern)
	if !pids[int32(os.Getpid())] {
		t.Errorf("workerPIDs(%q) did not include the test process %d", pattern, os.Getpid())
	}
}

func TestWorkerPIDsEmptyPattern(t *testing.T) {
	if got := workerPIDs(""); len(got) != 0 {
		t.Errorf("workerPIDs(\"\") returned %d pids, want 0", len(got))
	}
}

func TestReapSparesBaseline(t *testing.T) {
	pattern := filepath.Base(os.Args[0])
	baseline := workerPIDs(pattern)
	if !baseline[int32(os.Getpid())] {
		t.Fatalf("baseline missing the test process")
	}
	// Everything matching the pattern predates the "pool": nothing to kill.
	if killed := reapOrphans(baseline, pattern); killed != 0 {
		t.Errorf("reapOrphans killed %d processes, want 0", killed)
	}
}

func TestReapDisabledWithoutPattern(t *testing.T) {
	if killed := reapOrphans(nil, ""); killed != 0 {
		t.Errorf("reapOrphans with empty pattern killed %d, want 0", killed)
	}
}
