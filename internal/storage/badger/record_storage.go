package badger

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/talentscout/internal/models"
)

// Exporter rewrites the external checkpoint snapshot from a full record set
type Exporter interface {
	Export(records []*models.Record) error
}

// RecordStorage provides dedup-gated access to extracted records.
// The store's key uniqueness is the authoritative dedup gate; Exists is a
// pre-check optimization and is expected to race under concurrent sessions.
type RecordStorage struct {
	db       *BadgerDB
	exporter Exporter
	logger   arbor.ILogger

	// Serializes insert-and-checkpoint so concurrent sessions cannot
	// interleave a half-written snapshot.
	mu sync.Mutex
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, exporter Exporter, logger arbor.ILogger) *RecordStorage {
	return &RecordStorage{
		db:       db,
		exporter: exporter,
		logger:   logger,
	}
}

// Exists reports whether a record with the given id is already stored
func (s *RecordStorage) Exists(id string) bool {
	var rec models.Record
	err := s.db.Store().Get(id, &rec)
	if err != nil {
		if err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("record_id", id).Msg("Existence check failed, treating as absent")
		}
		return false
	}
	return true
}

// Count returns the number of distinct records in the store
func (s *RecordStorage) Count() (int, error) {
	count, err := s.db.Store().Count(&models.Record{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}

// InsertIfAbsent inserts each record unless its id already exists and
// returns the number actually inserted. A batch that inserted at least one
// record triggers a checkpoint export. Store I/O failure is returned to the
// caller; duplicate keys are not errors.
func (s *RecordStorage) InsertIfAbsent(records []*models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, rec := range records {
		if rec.ID == "" {
			return inserted, fmt.Errorf("record ID is required")
		}
		if err := s.db.Store().Insert(rec.ID, rec); err != nil {
			if err == badgerhold.ErrKeyExists {
				s.logger.Debug().Str("record_id", rec.ID).Msg("Record already stored, skipping")
				continue
			}
			return inserted, fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
		inserted++
	}

	if inserted > 0 && s.exporter != nil {
		all, err := s.ListRecords()
		if err != nil {
			return inserted, fmt.Errorf("checkpoint read-back failed: %w", err)
		}
		if err := s.exporter.Export(all); err != nil {
			return inserted, fmt.Errorf("checkpoint export failed: %w", err)
		}
	}

	return inserted, nil
}

// ListRecords returns all stored records
func (s *RecordStorage) ListRecords() ([]*models.Record, error) {
	var recs []models.Record
	if err := s.db.Store().Find(&recs, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]*models.Record, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}
