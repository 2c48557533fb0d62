package database

import (
	"gorm.io/gorm"

	"github.com/pkg/errors"
)

const checkpointName = "ethscriptions"

// GetOrCreateCheckpoint reconciles the persisted checkpoint against a
// configured startBlock, mirroring the teacher's "read state, reconcile
// against configured start, persist" dance: if no checkpoint row exists
// yet, one is created seated at startBlock-1 (so the first batch begins at
// startBlock); if a row exists, it is returned untouched — a configured
// startBlock never rewinds a checkpoint that has already advanced past it.
func GetOrCreateCheckpoint(db *gorm.DB, startBlock uint64) (*Checkpoint, error) {
	var cp Checkpoint

	err := db.Where("name = ?", checkpointName).First(&cp).Error
	if err == nil {
		return &cp, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "database: load checkpoint")
	}

	seed := uint64(0)
	if startBlock > 0 {
		seed = startBlock - 1
	}

	cp = Checkpoint{Name: checkpointName, LastProcessedBlock: seed}
	if err := db.Create(&cp).Error; err != nil {
		return nil, errors.Wrap(err, "database: seed checkpoint")
	}

	return &cp, nil
}

// AdvanceCheckpoint persists the new last-processed-block position. Callers
// must only invoke this after every intent through blockNumber has been
// materialized.
func AdvanceCheckpoint(db *gorm.DB, blockNumber, blockTimestamp uint64) error {
	err := db.Model(&Checkpoint{}).
		Where("name = ?", checkpointName).
		Updates(map[string]interface{}{
			"last_processed_block": blockNumber,
			"updated_at_block_time": blockTimestamp,
		}).Error

	return errors.Wrap(err, "database: advance checkpoint")
}
