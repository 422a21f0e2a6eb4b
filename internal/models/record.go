package models

import "time"

// Record is one extracted listing entry. ID is derived from the entry's
// canonical link path and is the store's primary key, so inserting the same
// entry twice is a no-op.
type Record struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	SourceURL   string    `json:"source_url"`
	CapturedAt  time.Time `json:"captured_at"`
}

// SnapshotEntry is the externally-visible form of a record in the
// checkpoint file. The ID is internal; the snapshot dedups by value.
type SnapshotEntry struct {
	DisplayName string    `json:"name"`
	SourceURL   string    `json:"url"`
	CapturedAt  time.Time `json:"scraped_at"`
}

// SnapshotEntryFromRecord converts a stored record to its snapshot form
func SnapshotEntryFromRecord(r *Record) SnapshotEntry {
	return SnapshotEntry{
		DisplayName: r.DisplayName,
		SourceURL:   r.SourceURL,
		CapturedAt:  r.CapturedAt,
	}
}

// SessionTarget is one (keyword, location) pair. Immutable once a session starts.
type SessionTarget struct {
	QueryTerm    string
	LocationTerm string
}

// String returns the target in "keyword location" form, as typed into the search box
func (t SessionTarget) String() string {
	return t.QueryTerm + " " + t.LocationTerm
}
