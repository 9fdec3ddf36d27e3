package services

import (
	"errors"

	"github.com/agrostack/fieldsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// The version ledger: every accepted mutation goes through lockField +
// bumpVersion inside one transaction, together with its history append.
// The row lock serializes writers per field; the conditional UPDATE guard
// catches drivers without real FOR UPDATE support (sqlite).

// CurrentVersion returns the field's current server version.
func CurrentVersion(db *gorm.DB, fieldID string) (uint64, error) {
	var field models.FieldRecord
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Select("field_id", "server_version").
		Where("field_id = ?", fieldID).
		First(&field).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return field.ServerVersion, nil
}

// lockField loads the field row under a row-level write lock.
func lockField(tx *gorm.DB, fieldID string) (*models.FieldRecord, error) {
	var field models.FieldRecord
	err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("field_id = ?", fieldID).
		First(&field).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &field, nil
}

// bumpVersion increments the field's server version by exactly 1 and applies
// updates in the same statement. The WHERE server_version guard makes the
// increment a compare-and-swap: RowsAffected == 0 means a concurrent writer
// committed first and the caller must restart its transaction.
func bumpVersion(tx *gorm.DB, field *models.FieldRecord, updates map[string]interface{}) (uint64, error) {
	newVersion := field.ServerVersion + 1

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["server_version"] = newVersion

	result := tx.Model(&models.FieldRecord{}).
		Where("field_id = ? AND server_version = ?", field.FieldID, field.ServerVersion).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, errWriteContention
	}

	return newVersion, nil
}
