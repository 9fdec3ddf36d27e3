package services_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/agrostack/fieldsync/internal/database"
	"github.com/agrostack/fieldsync/internal/models"
	"github.com/agrostack/fieldsync/internal/services"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// A pooled second connection would see a different empty :memory: database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying SQL DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

func testBoundary() json.RawMessage {
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

func testBoundaryAlt() json.RawMessage {
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

func testChange() services.ChangeContext {
	return services.ChangeContext{
		ActorID: "user-1",
		Source:  models.SourceAPI,
		Reason:  "test change",
	}
}

// TestCreateFieldStartsAtVersionOne verifies creation semantics: version 1
// plus a creation history entry with a null previous boundary.
func TestCreateFieldStartsAtVersionOne(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "North Paddock",
		CropType: "maize",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	if field.ServerVersion != 1 {
		t.Errorf("Expected server version 1, got %d", field.ServerVersion)
	}
	if field.AreaHectares <= 0 {
		t.Errorf("Expected positive area, got %g", field.AreaHectares)
	}
	if field.Centroid.IsNull() {
		t.Error("Expected computed centroid")
	}

	var entries []models.BoundaryHistoryEntry
	if err := db.Where("field_id = ?", field.FieldID).Find(&entries).Error; err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(entries))
	}
	if entries[0].VersionAtChange != 1 {
		t.Errorf("Expected history at version 1, got %d", entries[0].VersionAtChange)
	}
	if !entries[0].PreviousBoundary.IsNull() {
		t.Error("Expected null previous boundary on creation entry")
	}
	if entries[0].NewBoundary.IsNull() {
		t.Error("Expected new boundary on creation entry")
	}
}

// TestVersionIncrementsByOne verifies that N accepted mutations leave the
// field at version N with a contiguous history.
func TestVersionIncrementsByOne(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Ledger Field",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	const updates = 5
	for i := 0; i < updates; i++ {
		field, err = services.UpdateField(db, field.FieldID, field.ServerVersion, "", services.FieldInput{
			Boundary: testBoundaryAlt(),
		}, testChange())
		if err != nil {
			t.Fatalf("Update %d failed: %v", i+1, err)
		}
	}

	if field.ServerVersion != updates+1 {
		t.Errorf("Expected version %d, got %d", updates+1, field.ServerVersion)
	}

	var entries []models.BoundaryHistoryEntry
	if err := db.Where("field_id = ?", field.FieldID).
		Order("version_at_change ASC").Find(&entries).Error; err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(entries) != updates+1 {
		t.Fatalf("Expected %d history entries, got %d", updates+1, len(entries))
	}
	for i, entry := range entries {
		if entry.VersionAtChange != uint64(i+1) {
			t.Errorf("History gap: entry %d at version %d", i, entry.VersionAtChange)
		}
	}
}

// TestStaleVersionConflicts verifies the optimistic concurrency check and
// that the conflict carries current server state for re-base.
func TestStaleVersionConflicts(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Contested Field",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	// First writer wins
	updated, err := services.UpdateField(db, field.FieldID, 1, "", services.FieldInput{
		Boundary: testBoundaryAlt(),
	}, testChange())
	if err != nil {
		t.Fatalf("First update failed: %v", err)
	}
	if updated.ServerVersion != 2 {
		t.Fatalf("Expected version 2, got %d", updated.ServerVersion)
	}

	// Second writer with the stale version loses
	_, err = services.UpdateField(db, field.FieldID, 1, "", services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	conflict, ok := services.AsConflict(err)
	if !ok {
		t.Fatalf("Expected version conflict, got: %v", err)
	}
	if conflict.CurrentVersion != 2 {
		t.Errorf("Expected conflict at version 2, got %d", conflict.CurrentVersion)
	}
	if conflict.ServerData == nil {
		t.Fatal("Expected server data in conflict")
	}
	if conflict.CurrentETag != services.MakeETag(field.FieldID, 2) {
		t.Errorf("Unexpected conflict etag: %s", conflict.CurrentETag)
	}

	// Re-based retry against the current etag succeeds
	rebased, err := services.UpdateField(db, field.FieldID, 0, conflict.CurrentETag, services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Re-based update failed: %v", err)
	}
	if rebased.ServerVersion != 3 {
		t.Errorf("Expected version 3 after re-base, got %d", rebased.ServerVersion)
	}
}

// TestIfMatchPrecondition verifies ETag preconditions, including rejection of
// malformed tags and mismatched field ids.
func TestIfMatchPrecondition(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Tagged Field",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	// Correct etag
	etag := services.MakeETag(field.FieldID, 1)
	updated, err := services.UpdateField(db, field.FieldID, 0, etag, services.FieldInput{
		Boundary: testBoundaryAlt(),
	}, testChange())
	if err != nil {
		t.Fatalf("Update with matching etag failed: %v", err)
	}
	if updated.ServerVersion != 2 {
		t.Errorf("Expected version 2, got %d", updated.ServerVersion)
	}

	// Stale etag conflicts
	_, err = services.UpdateField(db, field.FieldID, 0, etag, services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if _, ok := services.AsConflict(err); !ok {
		t.Errorf("Expected conflict for stale etag, got: %v", err)
	}

	// Etag for another field conflicts
	other := services.MakeETag("someone-else", 2)
	_, err = services.UpdateField(db, field.FieldID, 0, other, services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if _, ok := services.AsConflict(err); !ok {
		t.Errorf("Expected conflict for foreign etag, got: %v", err)
	}

	// Malformed etag is rejected outright, not a conflict
	_, err = services.UpdateField(db, field.FieldID, 0, "garbage", services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if !errors.Is(err, services.ErrInvalidETag) {
		t.Errorf("Expected ErrInvalidETag, got: %v", err)
	}
}

// TestCreateReplayedIDConflicts verifies that re-creating a known id reports
// a conflict against the existing record instead of failing opaquely.
func TestCreateReplayedIDConflicts(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		FieldID:  "11111111-1111-1111-1111-111111111111",
		Name:     "Original",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	_, err = services.CreateField(db, "tenant-1", services.FieldInput{
		FieldID:  field.FieldID,
		Name:     "Replay",
		Boundary: testBoundary(),
	}, testChange())
	conflict, ok := services.AsConflict(err)
	if !ok {
		t.Fatalf("Expected conflict for replayed id, got: %v", err)
	}
	if conflict.CurrentVersion != 1 {
		t.Errorf("Expected conflict at version 1, got %d", conflict.CurrentVersion)
	}
}

// TestSoftDeleteWritesTombstone verifies deletion is a forward versioned
// write with a null new boundary in its history entry.
func TestSoftDeleteWritesTombstone(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Doomed Field",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	deleted, err := services.SoftDeleteField(db, field.FieldID, 1, "", testChange())
	if err != nil {
		t.Fatalf("Failed to delete field: %v", err)
	}
	if !deleted.Deleted {
		t.Error("Expected tombstone")
	}
	if deleted.ServerVersion != 2 {
		t.Errorf("Expected version 2 after delete, got %d", deleted.ServerVersion)
	}

	var entry models.BoundaryHistoryEntry
	if err := db.Where("field_id = ? AND version_at_change = ?", field.FieldID, 2).
		First(&entry).Error; err != nil {
		t.Fatalf("Failed to load deletion entry: %v", err)
	}
	if !entry.NewBoundary.IsNull() {
		t.Error("Expected null new boundary on deletion entry")
	}
	if entry.AreaDelta >= 0 {
		t.Errorf("Expected negative area delta, got %g", entry.AreaDelta)
	}

	// The record itself survives as a tombstone
	got, err := services.GetField(db, field.FieldID)
	if err != nil {
		t.Fatalf("Expected tombstone to be readable: %v", err)
	}
	if !got.Deleted {
		t.Error("Expected Deleted=true on read")
	}
}

// TestUpdateRestoresTombstone verifies that uploading a boundary to a deleted
// field clears the tombstone.
func TestUpdateRestoresTombstone(t *testing.T) {
	db := setupTestDB(t)

	field, err := services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Phoenix Field",
		Boundary: testBoundary(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to create field: %v", err)
	}

	if _, err := services.SoftDeleteField(db, field.FieldID, 1, "", testChange()); err != nil {
		t.Fatalf("Failed to delete field: %v", err)
	}

	restored, err := services.UpdateField(db, field.FieldID, 2, "", services.FieldInput{
		Boundary: testBoundaryAlt(),
	}, testChange())
	if err != nil {
		t.Fatalf("Failed to restore field: %v", err)
	}
	if restored.Deleted {
		t.Error("Expected tombstone to be cleared")
	}
	if restored.ServerVersion != 3 {
		t.Errorf("Expected version 3, got %d", restored.ServerVersion)
	}
}

// TestMutationValidation covers rejected payloads
func TestMutationValidation(t *testing.T) {
	db := setupTestDB(t)

	// Missing tenant
	_, err := services.CreateField(db, "", services.FieldInput{
		Name:     "No Tenant",
		Boundary: testBoundary(),
	}, testChange())
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("Expected validation error for missing tenant, got: %v", err)
	}

	// Missing name
	_, err = services.CreateField(db, "tenant-1", services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("Expected validation error for missing name, got: %v", err)
	}

	// Open ring
	_, err = services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Bad Ring",
		Boundary: json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`),
	}, testChange())
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("Expected validation error for open ring, got: %v", err)
	}

	// Unknown change source
	bad := testChange()
	bad.Source = "carrier-pigeon"
	_, err = services.CreateField(db, "tenant-1", services.FieldInput{
		Name:     "Bad Source",
		Boundary: testBoundary(),
	}, bad)
	if !errors.Is(err, services.ErrValidation) {
		t.Errorf("Expected validation error for bad change source, got: %v", err)
	}
}

func TestUpdateUnknownFieldNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := services.UpdateField(db, "no-such-field", 1, "", services.FieldInput{
		Boundary: testBoundary(),
	}, testChange())
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}
