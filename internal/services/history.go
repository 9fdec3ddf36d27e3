// history.go
//
// Field boundary delta-sync service for offline-capable mobile clients
// Copyright (c) 2026 AgroStack <dev@agrostack.io>
//
// This file is part of fieldsync.
// fieldsync is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// fieldsync is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with fieldsync.
// If not, see <https://www.gnu.org/licenses/>.

package services

import (
	"errors"
	"fmt"

	"github.com/agrostack/fieldsync/internal/geometry"
	"github.com/agrostack/fieldsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ListBoundaryHistory returns the field's history entries with
// version_at_change > sinceVersion, ascending. Pass 0 for the full history.
func ListBoundaryHistory(db *gorm.DB, fieldID string, sinceVersion uint64) ([]models.BoundaryHistoryEntry, error) {
	if _, err := CurrentVersion(db, fieldID); err != nil {
		return nil, err
	}

	var entries []models.BoundaryHistoryEntry
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("field_id = ? AND version_at_change > ?", fieldID, sinceVersion).
		Order("version_at_change ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RollbackBoundary restores the field's boundary to the state captured by the
// given history entry (its new_boundary, i.e. "restore to this point").
//
// Rollback is itself a forward versioned write: it bumps the version and
// appends a fresh system-sourced history entry referencing the rollback
// target. The version never decrements and the history stays append-only.
func RollbackBoundary(db *gorm.DB, fieldID string, historyID uint64, actorID, reason string) (*models.FieldRecord, *models.BoundaryHistoryEntry, error) {
	var target models.BoundaryHistoryEntry
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("history_id = ? AND field_id = ?", historyID, fieldID).
		First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	systemReason := fmt.Sprintf("rollback to version %d (history %d): %s",
		target.VersionAtChange, target.HistoryID, reason)

	var appended *models.BoundaryHistoryEntry
	updated, err := mutateField(db, fieldID, func(field *models.FieldRecord) (map[string]interface{}, *models.BoundaryHistoryEntry, error) {
		updates := map[string]interface{}{}
		entry := &models.BoundaryHistoryEntry{
			FieldID:          field.FieldID,
			PreviousBoundary: field.Boundary,
			ActorID:          actorID,
			Reason:           systemReason,
			ChangeSource:     models.SourceSystem,
		}

		if target.NewBoundary.IsNull() {
			// The target entry recorded a deletion; rolling back to it
			// restores the tombstone.
			updates["deleted"] = true
			entry.AreaDelta = -field.AreaHectares
		} else {
			poly, err := geometry.Decode([]byte(target.NewBoundary.JSON))
			if err != nil {
				return nil, nil, fmt.Errorf("%w: stored boundary unusable: %v", ErrValidation, err)
			}
			updates["boundary"] = target.NewBoundary
			updates["centroid"] = models.NewJSON(poly.CentroidJSON())
			updates["area_hectares"] = poly.AreaHectares()
			updates["deleted"] = false
			entry.NewBoundary = target.NewBoundary
			entry.AreaDelta = poly.AreaHectares() - field.AreaHectares
		}

		appended = entry
		return updates, entry, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return updated, appended, nil
}
