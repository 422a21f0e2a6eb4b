package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/models"
)

// Snapshot maintains the externally-visible checkpoint file. Each export
// re-reads the full record set, merges it with whatever the file already
// holds (by value equality, so partial prior exports are tolerated) and
// atomically rewrites the file.
type Snapshot struct {
	path   string
	logger arbor.ILogger
}

// NewSnapshot creates a snapshot exporter writing to the given path
func NewSnapshot(path string, logger arbor.ILogger) *Snapshot {
	return &Snapshot{
		path:   path,
		logger: logger,
	}
}

// Path returns the snapshot file path
func (s *Snapshot) Path() string {
	return s.path
}

// Export merges the given records into the snapshot file and rewrites it.
// Existing entries are kept in order; new entries are appended.
func (s *Snapshot) Export(records []*models.Record) error {
	existing := s.readExisting()

	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[entryKey(e)] = struct{}{}
	}

	merged := existing
	added := 0
	for _, rec := range records {
		entry := models.SnapshotEntryFromRecord(rec)
		key := entryKey(entry)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, entry)
		added++
	}

	if err := s.writeAtomic(merged); err != nil {
		return err
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("entries", len(merged)).
		Int("added", added).
		Msg("Snapshot checkpoint written")

	return nil
}

// readExisting loads the current snapshot file. A missing or unreadable
// file yields an empty slice so a fresh or corrupt snapshot is rebuilt
// from the store.
func (s *Snapshot) readExisting() []models.SnapshotEntry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read existing snapshot, rebuilding")
		}
		return nil
	}

	var entries []models.SnapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Existing snapshot is not valid JSON, rebuilding")
		return nil
	}
	return entries
}

// writeAtomic writes entries to a temp file in the target directory and
// renames it over the snapshot path.
func (s *Snapshot) writeAtomic(entries []models.SnapshotEntry) error {
	if entries == nil {
		entries = []models.SnapshotEntry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

func entryKey(e models.SnapshotEntry) string {
	return e.DisplayName + "\x00" + e.SourceURL + "\x00" + e.CapturedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
}
