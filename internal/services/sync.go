package services

import (
	"errors"
	"fmt"
	"log"

	"github.com/agrostack/fieldsync/internal/models"
	"github.com/agrostack/fieldsync/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/hints"
)

// SyncRecord is one changed field in a pull response, tombstones included.
type SyncRecord struct {
	models.FieldRecord
	ETag string `json:"etag"`
}

// PullResult is the delta-pull response body.
type PullResult struct {
	Records   []SyncRecord `json:"records"`
	NewCursor uint64       `json:"newCursor"`
}

// PullChanges returns all of the tenant's field records with server_version >
// since, ascending by version. Idempotent: repeating a pull with the same
// cursor while no writes occur returns the same result set. NewCursor is the
// highest version returned, or since unchanged when there is nothing new.
func PullChanges(db *gorm.DB, tenantID string, since uint64, limit int) (*PullResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", ErrValidation)
	}

	query := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("tenant_id = ? AND server_version > ?", tenantID, since).
		Order("server_version ASC")

	// The (tenant_id, server_version) index is the whole query; steer the
	// MySQL planner at it for large tenants.
	if db.Dialector.Name() == "mysql" {
		query = query.Clauses(hints.UseIndex("idx_tenant_version"))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var fields []models.FieldRecord
	if err := query.Find(&fields).Error; err != nil {
		return nil, err
	}

	result := &PullResult{
		Records:   make([]SyncRecord, 0, len(fields)),
		NewCursor: since,
	}
	for _, f := range fields {
		result.Records = append(result.Records, SyncRecord{
			FieldRecord: f,
			ETag:        MakeETag(f.FieldID, f.ServerVersion),
		})
		if f.ServerVersion > result.NewCursor {
			result.NewCursor = f.ServerVersion
		}
	}

	return result, nil
}

// AdvanceCursor records the device's new sync position. Monotonic: a stale
// or repeated pull never moves the cursor backwards. Not atomic with the
// pull itself; a lost update just means the device repeats an idempotent
// pull from the older position.
func AdvanceCursor(db *gorm.DB, deviceID, tenantID, userID string, version uint64) error {
	if deviceID == "" || tenantID == "" {
		return fmt.Errorf("%w: deviceId and tenantId are required", ErrValidation)
	}

	cursor := models.SyncCursor{DeviceID: deviceID, TenantID: tenantID}
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("device_id = ? AND tenant_id = ?", deviceID, tenantID).
		Attrs(models.SyncCursor{UserID: userID}).
		FirstOrCreate(&cursor).Error
	if err != nil {
		return err
	}

	if version <= cursor.LastSyncVersion {
		return nil
	}

	return db.Model(&models.SyncCursor{}).
		Where("device_id = ? AND tenant_id = ? AND last_sync_version < ?", deviceID, tenantID, version).
		Updates(map[string]interface{}{"last_sync_version": version, "user_id": userID}).Error
}

// GetCursor loads the device's bookmark; a device that has never synced gets
// a zero cursor.
func GetCursor(db *gorm.DB, deviceID, tenantID string) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := db.Session(&gorm.Session{Logger: db.Logger.LogMode(logger.Silent)}).
		Where("device_id = ? AND tenant_id = ?", deviceID, tenantID).
		First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.SyncCursor{DeviceID: deviceID, TenantID: tenantID}, nil
		}
		return nil, err
	}
	return &cursor, nil
}

// FieldEdit is one entry in a batch push.
type FieldEdit struct {
	FieldInput
	EditID        string           `json:"editId,omitempty"`
	ClientVersion types.FlexUint64 `json:"client_version,omitempty"`
	ETag          string           `json:"etag,omitempty"`
	IsNew         bool             `json:"_isNew,omitempty"`
	IsDeleted     bool             `json:"_deleted,omitempty"`
}

// Edit result statuses.
const (
	EditAccepted = "accepted"
	EditConflict = "conflict"
	EditRejected = "rejected"
)

// ConflictData gives a conflicted client what it needs to re-base.
type ConflictData struct {
	ServerData  *models.FieldRecord `json:"serverData"`
	CurrentEtag string              `json:"currentEtag"`
}

// EditResult reports the outcome of one batch edit.
type EditResult struct {
	EditID     string        `json:"editId"`
	FieldID    string        `json:"fieldId,omitempty"`
	Status     string        `json:"status"`
	NewVersion uint64        `json:"newVersion,omitempty"`
	ETag       string        `json:"etag,omitempty"`
	Conflict   *ConflictData `json:"conflict,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// PushBatch processes edits independently in submission order. Each edit is
// its own transaction: one edit's failure neither aborts nor rolls back the
// others, and results report each outcome precisely.
func PushBatch(db *gorm.DB, deviceID, tenantID, userID string, edits []FieldEdit) []EditResult {
	results := make([]EditResult, 0, len(edits))

	var devicePtr *string
	if deviceID != "" {
		devicePtr = &deviceID
	}
	chg := ChangeContext{
		ActorID:  userID,
		DeviceID: devicePtr,
		Source:   models.SourceMobile,
		Reason:   "sync push",
	}

	for i, edit := range edits {
		result := EditResult{EditID: edit.EditID, FieldID: edit.FieldID}
		if result.EditID == "" {
			if edit.FieldID != "" {
				result.EditID = edit.FieldID
			} else {
				result.EditID = fmt.Sprintf("edit-%d", i)
			}
		}

		var field *models.FieldRecord
		var err error
		switch {
		case edit.IsNew:
			field, err = CreateField(db, tenantID, edit.FieldInput, chg)
		case edit.FieldID == "":
			err = fmt.Errorf("%w: id is required unless _isNew", ErrValidation)
		case edit.IsDeleted:
			field, err = SoftDeleteField(db, edit.FieldID, edit.ClientVersion.Uint64(), edit.ETag, chg)
		default:
			field, err = UpdateField(db, edit.FieldID, edit.ClientVersion.Uint64(), edit.ETag, edit.FieldInput, chg)
		}

		switch {
		case err == nil:
			result.Status = EditAccepted
			result.FieldID = field.FieldID
			result.NewVersion = field.ServerVersion
			result.ETag = MakeETag(field.FieldID, field.ServerVersion)
		default:
			if conflict, ok := AsConflict(err); ok {
				result.Status = EditConflict
				result.Conflict = &ConflictData{
					ServerData:  conflict.ServerData,
					CurrentEtag: conflict.CurrentETag,
				}
			} else {
				result.Status = EditRejected
				result.Error = err.Error()
				if !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidETag) {
					log.Printf("push batch: edit %s failed: %v", result.EditID, err)
				}
			}
		}

		results = append(results, result)
	}

	return results
}
