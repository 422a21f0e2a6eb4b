package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/common"
)

// Manager bundles the Badger connection with the record storage
type Manager struct {
	db      *BadgerDB
	records *RecordStorage
	logger  arbor.ILogger
}

// NewManager opens the database and wires the record storage to the
// checkpoint exporter
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, exporter Exporter) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		records: NewRecordStorage(db, exporter, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Records returns the record storage
func (m *Manager) Records() *RecordStorage {
	return m.records
}

// Close closes the underlying database
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Debug().Msg("Closing Badger storage manager")
		return m.db.Close()
	}
	return nil
}
