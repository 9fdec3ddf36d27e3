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

package handlers

import (
	"errors"
	"fmt"

	"github.com/agrostack/fieldsync/internal/services"
	"github.com/agrostack/fieldsync/internal/types"
	"github.com/agrostack/fieldsync/internal/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// FieldHandler handles field record routes
type FieldHandler struct {
	DB *gorm.DB
}

// GetField handles GET /api/fields/:id
// @Summary Get a field
// @Description Get one field record with its current ETag and server version
// @Tags Fields
// @Accept json
// @Produce json
// @Param id path string true "Field ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields/{id} [get]
func (h *FieldHandler) GetField(c *fiber.Ctx) error {
	fieldID := c.Params("id")

	field, err := services.GetField(h.DB, fieldID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.NotFoundResponse(c, fmt.Sprintf("Field '%s' not found", fieldID))
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getField")
	}

	etag := services.MakeETag(field.FieldID, field.ServerVersion)
	c.Set("ETag", etag)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":             true,
		"field":          field,
		"etag":           etag,
		"server_version": field.ServerVersion,
	})
}

// CreateField handles POST /api/fields
// @Summary Create a field
// @Description Create a new field record at server version 1
// @Tags Fields
// @Accept json
// @Produce json
// @Param body body object true "Field payload"
// @Success 201 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields [post]
func (h *FieldHandler) CreateField(c *fiber.Ctx) error {
	var body struct {
		services.FieldInput
		TenantID string `json:"tenantId"`
		Reason   string `json:"reason"`
	}

	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "field.validation.input")
	}

	field, err := services.CreateField(h.DB, body.TenantID, body.FieldInput, changeContext(c, body.Reason))
	if err != nil {
		return writeMutationError(c, err, "createField")
	}

	etag := services.MakeETag(field.FieldID, field.ServerVersion)
	c.Set("ETag", etag)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Success",
		"ok":         true,
		"newVersion": fmt.Sprintf("%d", field.ServerVersion),
		"etag":       etag,
		"field":      field,
	})
}

// UpdateField handles PUT /api/fields/:id
// @Summary Update a field boundary
// @Description Apply a boundary edit under an If-Match ETag or client_version precondition
// @Tags Fields
// @Accept json
// @Produce json
// @Param id path string true "Field ID"
// @Param If-Match header string false "ETag precondition"
// @Param body body object true "Boundary payload with client_version"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields/{id} [put]
func (h *FieldHandler) UpdateField(c *fiber.Ctx) error {
	fieldID := c.Params("id")
	ifMatch := c.Get("If-Match")

	var body struct {
		services.FieldInput
		ClientVersion types.FlexUint64 `json:"client_version"`
		Reason        string           `json:"reason"`
	}

	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "field.validation.input")
	}

	field, err := services.UpdateField(h.DB, fieldID, body.ClientVersion.Uint64(), ifMatch,
		body.FieldInput, changeContext(c, body.Reason))
	if err != nil {
		return writeMutationError(c, err, "updateField")
	}

	return utils.MutationSuccessResponse(c, field, field.ServerVersion,
		services.MakeETag(field.FieldID, field.ServerVersion))
}

// DeleteField handles DELETE /api/fields/:id
// @Summary Soft-delete a field
// @Description Mark a field deleted as a forward versioned write (tombstone)
// @Tags Fields
// @Accept json
// @Produce json
// @Param id path string true "Field ID"
// @Param If-Match header string false "ETag precondition"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields/{id} [delete]
func (h *FieldHandler) DeleteField(c *fiber.Ctx) error {
	fieldID := c.Params("id")
	ifMatch := c.Get("If-Match")

	var body struct {
		ClientVersion types.FlexUint64 `json:"client_version"`
		Reason        string           `json:"reason"`
	}
	// Body is optional when If-Match carries the precondition.
	_ = c.BodyParser(&body)

	field, err := services.SoftDeleteField(h.DB, fieldID, body.ClientVersion.Uint64(), ifMatch,
		changeContext(c, body.Reason))
	if err != nil {
		return writeMutationError(c, err, "deleteField")
	}

	return utils.MutationSuccessResponse(c, field, field.ServerVersion,
		services.MakeETag(field.FieldID, field.ServerVersion))
}

// writeMutationError maps service errors from field writes onto HTTP
// responses: conflicts carry server state, validation and bad preconditions
// are 400s, unknown fields are 404s.
func writeMutationError(c *fiber.Ctx, err error, op string) error {
	if conflict, ok := services.AsConflict(err); ok {
		return utils.VersionConflictResponse(c, conflict.ServerData, conflict.CurrentETag)
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		return utils.NotFoundResponse(c, "Field not found")
	case errors.Is(err, services.ErrInvalidETag):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "field.validation.etag")
	case errors.Is(err, services.ErrValidation):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "field.validation.input")
	}
	return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, op)
}
