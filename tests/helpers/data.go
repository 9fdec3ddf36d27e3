// data.go
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

package helpers

import (
	"encoding/json"
	"testing"

	"github.com/agrostack/fieldsync/internal/models"
	"gorm.io/gorm"
)

// TestBoundary is a roughly 100m x 100m square near the equator.
func TestBoundary() json.RawMessage {
	return json.RawMessage(`{
		"type": "Polygon",
		"coordinates": [[
			[36.8000, -1.3000],
			[36.8009, -1.3000],
			[36.8009, -1.3009],
			[36.8000, -1.3009],
			[36.8000, -1.3000]
		]]
	}`)
}

// TestBoundaryAlt is TestBoundary shifted east, for update payloads.
func TestBoundaryAlt() json.RawMessage {
	return json.RawMessage(`{
		"type": "Polygon",
		"coordinates": [[
			[36.8100, -1.3000],
			[36.8109, -1.3000],
			[36.8109, -1.3009],
			[36.8100, -1.3009],
			[36.8100, -1.3000]
		]]
	}`)
}

// CreateTestField inserts a field record directly at the given server version
func CreateTestField(t *testing.T, db *gorm.DB, fieldID, tenantID string, version uint64) {
	field := models.FieldRecord{
		FieldID:       fieldID,
		TenantID:      tenantID,
		Name:          "Test Field " + fieldID,
		CropType:      "maize",
		Boundary:      models.NewJSON(TestBoundary()),
		AreaHectares:  1.0,
		ServerVersion: version,
	}
	if err := db.Create(&field).Error; err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}
}

// CreateTestHistoryEntry appends a history entry directly
func CreateTestHistoryEntry(t *testing.T, db *gorm.DB, fieldID string, version uint64, boundary json.RawMessage) {
	entry := models.BoundaryHistoryEntry{
		FieldID:         fieldID,
		VersionAtChange: version,
		NewBoundary:     models.NewJSON(boundary),
		ActorID:         "test-actor",
		ChangeSource:    models.SourceAPI,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("Failed to create history entry: %v", err)
	}
}
