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

// HistoryHandler handles boundary history routes
type HistoryHandler struct {
	DB *gorm.DB
}

// ListHistory handles GET /api/fields/:id/boundary-history
// @Summary List boundary history
// @Description Ordered, append-only boundary change entries for a field
// @Tags History
// @Accept json
// @Produce json
// @Param id path string true "Field ID"
// @Param since query integer false "Return entries with version_at_change greater than this"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields/{id}/boundary-history [get]
func (h *HistoryHandler) ListHistory(c *fiber.Ctx) error {
	fieldID := c.Params("id")

	since, err := parseSince(c)
	if err != nil {
		return utils.ErrorResponse(c, "Invalid since version", fiber.StatusBadRequest, "history.validation.since")
	}

	entries, err := services.ListBoundaryHistory(h.DB, fieldID, since)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return utils.NotFoundResponse(c, fmt.Sprintf("Field '%s' not found", fieldID))
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "listHistory")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"fieldId": fieldID,
		"history": entries,
	})
}

// Rollback handles POST /api/fields/:id/boundary-history/rollback
// @Summary Roll back a field boundary
// @Description Restore the boundary captured by a history entry, as a new forward versioned write
// @Tags History
// @Accept json
// @Produce json
// @Param id path string true "Field ID"
// @Param body body object true "historyId and reason"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /fields/{id}/boundary-history/rollback [post]
func (h *HistoryHandler) Rollback(c *fiber.Ctx) error {
	fieldID := c.Params("id")

	var body struct {
		HistoryID types.FlexUint64 `json:"historyId"`
		Reason    string           `json:"reason"`
	}

	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "history.validation.input")
	}
	if body.HistoryID.Uint64() == 0 {
		return utils.ErrorResponse(c, "historyId is required", fiber.StatusBadRequest, "history.validation.input")
	}

	field, entry, err := services.RollbackBoundary(h.DB, fieldID, body.HistoryID.Uint64(), actorID(c), body.Reason)
	if err != nil {
		return writeMutationError(c, err, "rollback")
	}

	etag := services.MakeETag(field.FieldID, field.ServerVersion)
	c.Set("ETag", etag)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":    "Success",
		"ok":         true,
		"newVersion": fmt.Sprintf("%d", field.ServerVersion),
		"etag":       etag,
		"field":      field,
		"entry":      entry,
	})
}
