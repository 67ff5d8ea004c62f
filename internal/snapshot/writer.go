package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tymiles003/FlowTrack/internal/model"
)

const (
	dataFile    = "talkers.dat"
	summaryFile = "summary.json"
	dirLayout   = "2006-01-02_15-04-05"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TotalTalkers int    `json:"total_talkers"`
	TopID        string `json:"top_id,omitempty"`
	TopScore     int64  `json:"top_score"`
	Timestamp    string `json:"timestamp"`
}

// Writer writes the ranked talker table to timestamped directories under a root path.
type Writer struct {
	rootPath string
}

// NewWriter creates a new snapshot writer.
func NewWriter(rootPath string) *Writer {
	return &Writer{rootPath: rootPath}
}

// Write stores talkers as gob in <root>/<timestamp>/talkers.dat and a
// summary.json next to it. An empty table still produces a summary.
func (w *Writer) Write(talkers []model.RecentTalker, at time.Time) error {
	snapshotDir := filepath.Join(w.rootPath, at.UTC().Format(dirLayout))
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if len(talkers) > 0 {
		filePath := filepath.Join(snapshotDir, dataFile)
		file, err := os.Create(filePath)
		if err != nil {
			return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
		}
		defer file.Close()

		if err := gob.NewEncoder(file).Encode(talkers); err != nil {
			return fmt.Errorf("failed to encode talkers to gob for file '%s': %w", filePath, err)
		}
	}

	summary := SummaryData{
		TotalTalkers: len(talkers),
		Timestamp:    at.UTC().Format(time.RFC3339),
	}
	if len(talkers) > 0 {
		summary.TopID = talkers[0].ID
		summary.TopScore = talkers[0].Score
	}
	f, err := os.Create(filepath.Join(snapshotDir, summaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	jsonEncoder := json.NewEncoder(f)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// Latest loads the most recent snapshot under the root path.
func (w *Writer) Latest() ([]model.RecentTalker, *SummaryData, error) {
	entries, err := os.ReadDir(w.rootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return nil, nil, os.ErrNotExist
	}
	sort.Strings(dirs)
	return Load(filepath.Join(w.rootPath, dirs[len(dirs)-1]))
}

// Load reads one snapshot directory.
func Load(dir string) ([]model.RecentTalker, *SummaryData, error) {
	raw, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, nil, fmt.Errorf("failed to decode summary: %w", err)
	}

	file, err := os.Open(filepath.Join(dir, dataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &summary, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot data: %w", err)
	}
	defer file.Close()

	var talkers []model.RecentTalker
	if err := gob.NewDecoder(file).Decode(&talkers); err != nil {
		return nil, nil, fmt.Errorf("failed to decode snapshot data: %w", err)
	}
	return talkers, &summary, nil
}
