package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/cwbudde/maximizer/internal/opt"
	"gopkg.in/yaml.v3"
)

// DefaultPrefix names the table file when no prefix is configured
const DefaultPrefix = "maximize"

// FSStore implements the Store interface using filesystem-based persistence.
// Runs are stored in a directory structure: <baseDir>/runs/<runID>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks. Multiple goroutines can safely call methods
// concurrently.
type FSStore struct {
	baseDir string // Root directory for all run data (e.g., "./output")
	prefix  string // File name prefix of the maximum table
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
		prefix:  DefaultPrefix,
	}, nil
}

// WithPrefix returns a store writing tables as <prefix>.maximum.txt
func (fs *FSStore) WithPrefix(prefix string) *FSStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &FSStore{baseDir: fs.baseDir, prefix: prefix}
}

// BaseDir returns the root directory of the store
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// RunDir returns the directory path for a given run ID.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) maximumPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "maximum.json")
}

// TablePath returns the path of the human readable maximum table
func (fs *FSStore) TablePath(runID string) string {
	return filepath.Join(fs.RunDir(runID), fs.prefix+".maximum.txt")
}

func (fs *FSStore) configPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "config.yaml")
}

// SaveMaximum atomically saves the maximum and its table for the given run.
func (fs *FSStore) SaveMaximum(runID string, m *Maximum) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if m == nil {
		return fmt.Errorf("maximum cannot be nil")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid maximum: %w", err)
	}

	// The prefix may add subdirectories below the run directory
	if err := os.MkdirAll(filepath.Dir(fs.TablePath(runID)), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize maximum: %w", err)
	}
	if err := writeAtomic(fs.maximumPath(runID), data); err != nil {
		return err
	}

	if err := writeAtomic(fs.TablePath(runID), []byte(FormatTable(m.Record))); err != nil {
		return err
	}

	slog.Debug("Maximum saved", "runID", runID, "path", fs.maximumPath(runID))
	return nil
}

// LoadMaximum retrieves the maximum of the given run.
func (fs *FSStore) LoadMaximum(runID string) (*Maximum, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.maximumPath(runID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat maximum file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read maximum file: %w", err)
	}

	var m Maximum
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize maximum: %w", err)
	}

	slog.Debug("Maximum loaded", "runID", runID, "path", path)
	return &m, nil
}

// SaveConfig writes cfg as config.yaml in the run directory.
func (fs *FSStore) SaveConfig(runID string, cfg any) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if err := os.MkdirAll(fs.RunDir(runID), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return writeAtomic(fs.configPath(runID), data)
}

// LoadConfig reads config.yaml of a run into out.
func (fs *FSStore) LoadConfig(runID string, out any) error {
	data, err := os.ReadFile(fs.configPath(runID))
	if os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ListRuns returns metadata for all runs with a saved maximum.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	if _, err := os.Stat(runsDir); os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat runs directory: %w", err)
	}

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runID := entry.Name()
		if _, err := os.Stat(fs.maximumPath(runID)); os.IsNotExist(err) {
			continue // Failed or unfinished run
		}

		m, err := fs.LoadMaximum(runID)
		if err != nil {
			slog.Warn("Failed to load maximum for listing", "runID", runID, "error", err)
			continue
		}

		infos = append(infos, m.ToInfo())
	}

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory and all contents.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.RunDir(runID)

	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", runDir)
	return nil
}

// writeAtomic writes data to a temp file and renames it over path
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RunSink saves the published maximum of one run. It implements maximize.Sink.
type RunSink struct {
	Store Store
	RunID string
}

// SaveMaximum implements maximize.Sink
func (s RunSink) SaveMaximum(rec maximize.MaximumRecord, outcome opt.Outcome) error {
	return s.Store.SaveMaximum(s.RunID, NewMaximum(s.RunID, rec, outcome))
}
