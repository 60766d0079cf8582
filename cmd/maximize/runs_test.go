package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/opt"
	"github.com/cwbudde/maximizer/internal/store"
)

func TestSelectRunsForDeletion_ByAge(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)}, // 10 days old
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},  // 5 days old
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},  // 1 day old
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)}, // 30 days old
	}

	// Delete runs older than 7 days
	toDelete := selectRunsForDeletion(infos, 0, 7)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete, got %d", len(toDelete))
	}

	if !containsRun(toDelete, "run1") || !containsRun(toDelete, "run4") {
		t.Error("Expected run1 and run4 to be selected for deletion")
	}
}

func TestSelectRunsForDeletion_ByCount(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
	}

	// Keep only last 2 runs
	toDelete := selectRunsForDeletion(infos, 2, 0)

	if len(toDelete) != 2 {
		t.Errorf("Expected 2 runs to delete, got %d", len(toDelete))
	}

	// Should delete oldest two (run4 and run1)
	if !containsRun(toDelete, "run4") || !containsRun(toDelete, "run1") {
		t.Error("Expected run4 and run1 to be selected for deletion (oldest)")
	}
}

func TestSelectRunsForDeletion_Combined(t *testing.T) {
	now := time.Now()
	infos := []store.RunInfo{
		{RunID: "run1", Timestamp: now.AddDate(0, 0, -10)},
		{RunID: "run2", Timestamp: now.AddDate(0, 0, -5)},
		{RunID: "run3", Timestamp: now.AddDate(0, 0, -1)},
		{RunID: "run4", Timestamp: now.AddDate(0, 0, -30)},
		{RunID: "run5", Timestamp: now.AddDate(0, 0, -2)},
	}

	// Delete older than 7 days AND keep only last 2
	toDelete := selectRunsForDeletion(infos, 2, 7)

	// run4 and run1 by age, run2 by count; no run twice
	if len(toDelete) != 3 {
		t.Fatalf("Expected 3 runs to delete, got %d", len(toDelete))
	}
	for _, id := range []string{"run1", "run2", "run4"} {
		if !containsRun(toDelete, id) {
			t.Errorf("Expected %s to be selected for deletion", id)
		}
	}
}

func TestSelectRunsForDeletion_NothingToDelete(t *testing.T) {
	infos := []store.RunInfo{{RunID: "run1", Timestamp: time.Now()}}

	if toDelete := selectRunsForDeletion(infos, 5, 7); len(toDelete) != 0 {
		t.Errorf("Expected nothing to delete, got %d", len(toDelete))
	}
}

func TestGetDirSize(t *testing.T) {
	// Create temp directory with files
	tmpDir := t.TempDir()

	// Create a file
	testFile := filepath.Join(tmpDir, "test.txt")
	content := []byte("Hello, World!")
	if err := os.WriteFile(testFile, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Get size
	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}

	if size < int64(len(content)) {
		t.Errorf("Expected size >= %d, got %d", len(content), size)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.bytes)
		if result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestDisplayID(t *testing.T) {
	if got := displayID("short"); got != "short" {
		t.Errorf("displayID(short) = %s", got)
	}
	if got := displayID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("displayID truncated to %s", got)
	}
}

func TestRunsListCommand_NoRuns(t *testing.T) {
	// Set data dir
	originalDataDir := runsDataDir
	runsDataDir = t.TempDir()
	defer func() { runsDataDir = originalDataDir }()

	// Run list command
	err := runListRuns(nil, nil)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestRunsListCommand_WithRuns(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "test-run-id", time.Now())

	// Set data dir
	originalDataDir := runsDataDir
	runsDataDir = tmpDir
	defer func() { runsDataDir = originalDataDir }()

	var buf bytes.Buffer
	listRunsCmd.SetOut(&buf)
	defer listRunsCmd.SetOut(nil)

	// Run list command
	if err := runListRuns(listRunsCmd, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "test-run-id") || !strings.Contains(out, "posterior") {
		t.Errorf("Listing should show the run:\n%s", out)
	}
	if !strings.Contains(out, "Total runs: 1") {
		t.Errorf("Listing should count the runs:\n%s", out)
	}
}

func TestRunsCleanCommand_NoFlags(t *testing.T) {
	originalDataDir := runsDataDir
	runsDataDir = t.TempDir()
	defer func() { runsDataDir = originalDataDir }()

	// Reset flags
	keepLast = 0
	olderThanDays = 0

	// Should return error when no flags specified
	err := runCleanRuns(nil, nil)
	if err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestRunsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()
	saveTestRun(t, tmpDir, "old-run", time.Now().AddDate(0, 0, -30))
	saveTestRun(t, tmpDir, "new-run", time.Now())

	originalDataDir := runsDataDir
	runsDataDir = tmpDir
	defer func() { runsDataDir = originalDataDir }()

	// Set flags
	keepLast = 0
	olderThanDays = 7
	forceClean = true
	defer func() { olderThanDays, forceClean = 0, false }()

	// Run clean command
	if err := runCleanRuns(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Verify only the old run was deleted
	runStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := runStore.LoadMaximum("old-run"); err == nil {
		t.Error("Expected old run to be deleted")
	}
	if _, err := runStore.LoadMaximum("new-run"); err != nil {
		t.Errorf("Expected new run to be kept: %v", err)
	}
}

// saveTestRun stores a finished run with the given timestamp
func saveTestRun(t *testing.T, dir, runID string, ts time.Time) {
	t.Helper()

	runStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	rec := maximize.MaximumRecord{
		Name:            maximize.MaximumName,
		Kind:            "posterior",
		ParamNames:      []string{"a"},
		X:               []float64{0.5},
		LogPost:         -1.25,
		LogPriors:       []float64{-0.75},
		LikelihoodNames: []string{"gauss"},
		LogLikes:        []float64{-0.5},
		DerivedNames:    []string{"chi2__gauss"},
		Derived:         []float64{1},
	}
	m := store.NewMaximum(runID, rec, opt.Outcome{X: rec.X, F: 1.25, Success: true, NFev: 42})
	m.Timestamp = ts

	if err := runStore.SaveMaximum(runID, m); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
}

func containsRun(infos []store.RunInfo, id string) bool {
	for _, info := range infos {
		if info.RunID == id {
			return true
		}
	}
	return false
}
