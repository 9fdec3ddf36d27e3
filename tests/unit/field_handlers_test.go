package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/agrostack/fieldsync/internal/database"
	"github.com/agrostack/fieldsync/internal/handlers"
	"github.com/agrostack/fieldsync/internal/models"
	"github.com/agrostack/fieldsync/internal/services"
	"github.com/agrostack/fieldsync/tests/helpers"
	"github.com/gofiber/fiber/v2"
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

func fieldApp(db *gorm.DB) *fiber.App {
	app := fiber.New()
	handler := &handlers.FieldHandler{DB: db}
	app.Get("/api/fields/:id", handler.GetField)
	app.Post("/api/fields", handler.CreateField)
	app.Put("/api/fields/:id", handler.UpdateField)
	app.Delete("/api/fields/:id", handler.DeleteField)
	return app
}

// TestGetField tests the GET /api/fields/:id endpoint
func TestGetField(t *testing.T) {
	db := setupTestDB(t)
	helpers.CreateTestField(t, db, "field-1", "tenant-1", 3)

	app := fieldApp(db)

	req := httptest.NewRequest("GET", "/api/fields/field-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 200)
	helpers.AssertETag(t, resp, services.MakeETag("field-1", 3))

	var result map[string]interface{}
	helpers.ParseJSON(t, resp, &result)

	if result["ok"] != true {
		t.Error("Expected ok=true in response")
	}
	if result["etag"] != services.MakeETag("field-1", 3) {
		t.Errorf("Unexpected etag in body: %v", result["etag"])
	}
	field, ok := result["field"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected field object in response")
	}
	if field["id"] != "field-1" {
		t.Errorf("Unexpected field id: %v", field["id"])
	}
}

// TestGetFieldNotFound tests 404 responses
func TestGetFieldNotFound(t *testing.T) {
	db := setupTestDB(t)
	app := fieldApp(db)

	req := httptest.NewRequest("GET", "/api/fields/nonexistent", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 404)
}

// TestCreateField tests the POST /api/fields endpoint
func TestCreateField(t *testing.T) {
	db := setupTestDB(t)
	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"tenantId": "tenant-1",
		"name":     "North Paddock",
		"cropType": "maize",
		"boundary": json.RawMessage(helpers.TestBoundary()),
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/api/fields", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 201)

	var result map[string]interface{}
	helpers.ParseJSON(t, resp, &result)

	if result["ok"] != true {
		t.Error("Expected ok=true in response")
	}
	if result["newVersion"] != "1" {
		t.Errorf("Expected newVersion \"1\", got %v", result["newVersion"])
	}
	if result["etag"] == nil {
		t.Error("Expected etag in response")
	}
}

// TestCreateFieldRejectsBadBoundary tests boundary validation at the handler
func TestCreateFieldRejectsBadBoundary(t *testing.T) {
	db := setupTestDB(t)
	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"tenantId": "tenant-1",
		"name":     "Bad Field",
		"boundary": json.RawMessage(`{"type":"Point","coordinates":[1,2]}`),
	}

	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/api/fields", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 400)
}

// TestUpdateFieldWithIfMatch tests the PUT endpoint with an ETag precondition
func TestUpdateFieldWithIfMatch(t *testing.T) {
	db := setupTestDB(t)
	helpers.CreateTestField(t, db, "field-1", "tenant-1", 1)

	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"boundary": json.RawMessage(helpers.TestBoundaryAlt()),
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("PUT", "/api/fields/field-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Match", services.MakeETag("field-1", 1))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 200)
	helpers.AssertETag(t, resp, services.MakeETag("field-1", 2))

	var result map[string]interface{}
	helpers.ParseJSON(t, resp, &result)
	if result["newVersion"] != "2" {
		t.Errorf("Expected newVersion \"2\", got %v", result["newVersion"])
	}
}

// TestUpdateFieldVersionConflict tests version conflict detection
func TestUpdateFieldVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	helpers.CreateTestField(t, db, "field-1", "tenant-1", 5)

	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"client_version": 4, // Wrong version (should be 5)
		"boundary":       json.RawMessage(helpers.TestBoundaryAlt()),
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("PUT", "/api/fields/field-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 409)

	var result map[string]interface{}
	helpers.ParseJSON(t, resp, &result)

	if result["versionError"] != true {
		t.Error("Expected versionError=true in response")
	}
	if result["currentEtag"] != services.MakeETag("field-1", 5) {
		t.Errorf("Unexpected currentEtag: %v", result["currentEtag"])
	}
	serverData, ok := result["serverData"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected serverData in conflict response")
	}
	if serverData["server_version"] != float64(5) {
		t.Errorf("Expected serverData at version 5, got %v", serverData["server_version"])
	}
}

// TestUpdateFieldBadETag tests malformed If-Match rejection
func TestUpdateFieldBadETag(t *testing.T) {
	db := setupTestDB(t)
	helpers.CreateTestField(t, db, "field-1", "tenant-1", 1)

	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"boundary": json.RawMessage(helpers.TestBoundaryAlt()),
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("PUT", "/api/fields/field-1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Match", "not-an-etag")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 400)
}

// TestDeleteField tests the DELETE endpoint writes a tombstone
func TestDeleteField(t *testing.T) {
	db := setupTestDB(t)
	helpers.CreateTestField(t, db, "field-1", "tenant-1", 1)

	app := fieldApp(db)

	req := httptest.NewRequest("DELETE", "/api/fields/field-1", nil)
	req.Header.Set("If-Match", services.MakeETag("field-1", 1))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}

	helpers.AssertStatus(t, resp, 200)

	var field models.FieldRecord
	if err := db.Where("field_id = ?", "field-1").First(&field).Error; err != nil {
		t.Fatalf("Failed to reload field: %v", err)
	}
	if !field.Deleted {
		t.Error("Expected tombstone after delete")
	}
	if field.ServerVersion != 2 {
		t.Errorf("Expected version 2 after delete, got %d", field.ServerVersion)
	}
}

// TestChangeSourceHeader tests that X-Change-Source lands on the history entry
func TestChangeSourceHeader(t *testing.T) {
	db := setupTestDB(t)
	app := fieldApp(db)

	reqBody := map[string]interface{}{
		"tenantId": "tenant-1",
		"name":     "Mobile Field",
		"boundary": json.RawMessage(helpers.TestBoundary()),
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/api/fields", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Change-Source", "mobile")
	req.Header.Set("X-Device-Id", "device-9")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	helpers.AssertStatus(t, resp, 201)

	var result map[string]interface{}
	helpers.ParseJSON(t, resp, &result)
	fieldObj := result["field"].(map[string]interface{})
	fieldID := fmt.Sprintf("%v", fieldObj["id"])

	var entry models.BoundaryHistoryEntry
	if err := db.Where("field_id = ?", fieldID).First(&entry).Error; err != nil {
		t.Fatalf("Failed to load history entry: %v", err)
	}
	if entry.ChangeSource != models.SourceMobile {
		t.Errorf("Expected mobile change source, got %s", entry.ChangeSource)
	}
	if entry.DeviceID == nil || *entry.DeviceID != "device-9" {
		t.Error("Expected device id on history entry")
	}

	// The reserved system source is not accepted from clients
	req = httptest.NewRequest("POST", "/api/fields", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Change-Source", "system")

	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	var second map[string]interface{}
	helpers.ParseJSON(t, resp, &second)
	secondField := second["field"].(map[string]interface{})

	var secondEntry models.BoundaryHistoryEntry
	if err := db.Where("field_id = ?", fmt.Sprintf("%v", secondField["id"])).
		First(&secondEntry).Error; err != nil {
		t.Fatalf("Failed to load history entry: %v", err)
	}
	if secondEntry.ChangeSource == models.SourceSystem {
		t.Error("Client must not be able to claim the system change source")
	}
}
