// fields.go
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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agrostack/fieldsync/internal/geometry"
	"github.com/agrostack/fieldsync/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// maxWriteAttempts bounds transaction restarts after a lost conditional
// version update before the contention is surfaced as a version conflict.
const maxWriteAttempts = 3

// FieldInput is the client payload for field creation and boundary updates.
type FieldInput struct {
	FieldID  string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	CropType string          `json:"cropType,omitempty"`
	Boundary json.RawMessage `json:"boundary,omitempty"`
}

// ChangeContext identifies who performed a mutation and why. Recorded on the
// boundary history entry written with every accepted write.
type ChangeContext struct {
	ActorID  string
	DeviceID *string
	Source   string
	Reason   string
}

// GetField loads one field record by id, tombstones included.
func GetField(db *gorm.DB, fieldID string) (*models.FieldRecord, error) {
	var field models.FieldRecord
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
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

// CreateField inserts a new field at server version 1 and writes the creation
// history entry (previous boundary null) in the same transaction.
func CreateField(db *gorm.DB, tenantID string, in FieldInput, chg ChangeContext) (*models.FieldRecord, error) {
	if tenantID == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: tenantId and name are required", ErrValidation)
	}
	poly, err := geometry.Decode(in.Boundary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !models.ValidChangeSource(chg.Source) {
		return nil, fmt.Errorf("%w: unknown change source %q", ErrValidation, chg.Source)
	}

	fieldID := in.FieldID
	if fieldID == "" {
		fieldID = uuid.NewString()
	}

	field := models.FieldRecord{
		FieldID:       fieldID,
		TenantID:      tenantID,
		Name:          in.Name,
		CropType:      in.CropType,
		Boundary:      models.NewJSON(in.Boundary),
		Centroid:      models.NewJSON(poly.CentroidJSON()),
		AreaHectares:  poly.AreaHectares(),
		ServerVersion: 1,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		// Client-side creations can replay an id the server already knows;
		// report that as a conflict against the existing record.
		existing, err := GetField(tx, fieldID)
		if err == nil {
			return conflictFor(existing)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := tx.Create(&field).Error; err != nil {
			return err
		}

		return tx.Create(&models.BoundaryHistoryEntry{
			FieldID:         fieldID,
			VersionAtChange: 1,
			NewBoundary:     field.Boundary,
			AreaDelta:       field.AreaHectares,
			ActorID:         chg.ActorID,
			Reason:          chg.Reason,
			ChangeSource:    chg.Source,
			DeviceID:        chg.DeviceID,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return &field, nil
}

// UpdateField applies a boundary edit under optimistic concurrency.
//
// The precondition is the If-Match ETag when supplied, otherwise the client's
// submitted version. A malformed ETag rejects the edit outright; a version
// mismatch yields a ConflictError carrying current server state. An accepted
// edit bumps the version and appends its history entry in one transaction,
// restarting up to maxWriteAttempts times if a concurrent writer wins the
// conditional update.
func UpdateField(db *gorm.DB, fieldID string, clientVersion uint64, ifMatch string, in FieldInput, chg ChangeContext) (*models.FieldRecord, error) {
	poly, err := geometry.Decode(in.Boundary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !models.ValidChangeSource(chg.Source) {
		return nil, fmt.Errorf("%w: unknown change source %q", ErrValidation, chg.Source)
	}

	var etagField string
	var etagVersion uint64
	if ifMatch != "" {
		etagField, etagVersion, err = ParseETag(ifMatch)
		if err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{
		"boundary":      models.NewJSON(in.Boundary),
		"centroid":      models.NewJSON(poly.CentroidJSON()),
		"area_hectares": poly.AreaHectares(),
		// Re-uploading a boundary restores a tombstoned field.
		"deleted": false,
	}
	if in.Name != "" {
		updates["name"] = in.Name
	}
	if in.CropType != "" {
		updates["crop_type"] = in.CropType
	}

	return mutateField(db, fieldID, func(field *models.FieldRecord) (map[string]interface{}, *models.BoundaryHistoryEntry, error) {
		if ifMatch != "" {
			if etagField != field.FieldID || etagVersion != field.ServerVersion {
				return nil, nil, conflictFor(field)
			}
		} else if clientVersion != field.ServerVersion {
			return nil, nil, conflictFor(field)
		}

		entry := &models.BoundaryHistoryEntry{
			FieldID:          field.FieldID,
			PreviousBoundary: field.Boundary,
			NewBoundary:      models.NewJSON(in.Boundary),
			AreaDelta:        poly.AreaHectares() - field.AreaHectares,
			ActorID:          chg.ActorID,
			Reason:           chg.Reason,
			ChangeSource:     chg.Source,
			DeviceID:         chg.DeviceID,
		}
		return updates, entry, nil
	})
}

// SoftDeleteField marks a field deleted as a forward versioned write, so sync
// clients receive the tombstone. The history entry has a null new boundary.
func SoftDeleteField(db *gorm.DB, fieldID string, clientVersion uint64, ifMatch string, chg ChangeContext) (*models.FieldRecord, error) {
	if !models.ValidChangeSource(chg.Source) {
		return nil, fmt.Errorf("%w: unknown change source %q", ErrValidation, chg.Source)
	}

	var etagField string
	var etagVersion uint64
	var err error
	if ifMatch != "" {
		etagField, etagVersion, err = ParseETag(ifMatch)
		if err != nil {
			return nil, err
		}
	}

	return mutateField(db, fieldID, func(field *models.FieldRecord) (map[string]interface{}, *models.BoundaryHistoryEntry, error) {
		if ifMatch != "" {
			if etagField != field.FieldID || etagVersion != field.ServerVersion {
				return nil, nil, conflictFor(field)
			}
		} else if clientVersion != field.ServerVersion {
			return nil, nil, conflictFor(field)
		}

		entry := &models.BoundaryHistoryEntry{
			FieldID:          field.FieldID,
			PreviousBoundary: field.Boundary,
			AreaDelta:        -field.AreaHectares,
			ActorID:          chg.ActorID,
			Reason:           chg.Reason,
			ChangeSource:     chg.Source,
			DeviceID:         chg.DeviceID,
		}
		return map[string]interface{}{"deleted": true}, entry, nil
	})
}

// mutateField runs one bump-and-append transaction. decide inspects the
// locked row and returns the column updates plus the history entry to append
// (VersionAtChange is filled in after the bump), or an error to abort with.
// Lost conditional updates restart the whole transaction; after
// maxWriteAttempts the current server state is reported as a conflict.
func mutateField(db *gorm.DB, fieldID string, decide func(*models.FieldRecord) (map[string]interface{}, *models.BoundaryHistoryEntry, error)) (*models.FieldRecord, error) {
	var updated models.FieldRecord

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			field, err := lockField(tx, fieldID)
			if err != nil {
				return err
			}

			updates, entry, err := decide(field)
			if err != nil {
				return err
			}

			newVersion, err := bumpVersion(tx, field, updates)
			if err != nil {
				return err
			}

			entry.VersionAtChange = newVersion
			if err := tx.Create(entry).Error; err != nil {
				return err
			}

			return tx.Where("field_id = ?", fieldID).First(&updated).Error
		})

		if errors.Is(err, errWriteContention) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}

	// Retries exhausted under contention; report against current state.
	current, err := GetField(db, fieldID)
	if err != nil {
		return nil, err
	}
	return nil, conflictFor(current)
}
