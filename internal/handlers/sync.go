package handlers

import (
	"errors"
	"log"

	"github.com/agrostack/fieldsync/internal/config"
	"github.com/agrostack/fieldsync/internal/services"
	"github.com/agrostack/fieldsync/internal/types"
	"github.com/agrostack/fieldsync/internal/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SyncHandler handles the delta-sync protocol routes
type SyncHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// PullChanges handles GET /api/fields/sync
// @Summary Pull field changes
// @Description Return all tenant field changes (tombstones included) with server_version > since
// @Tags Sync
// @Accept json
// @Produce json
// @Param tenantId query string true "Tenant ID"
// @Param since query integer false "Cursor: highest version already pulled"
// @Param deviceId query string false "Device ID for cursor tracking"
// @Param userId query string false "User ID recorded on the cursor"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /fields/sync [get]
func (h *SyncHandler) PullChanges(c *fiber.Ctx) error {
	tenantID := c.Query("tenantId")
	deviceID := c.Query("deviceId")
	userID := c.Query("userId")

	since, err := parseSince(c)
	if err != nil {
		return utils.ErrorResponse(c, "Invalid since cursor", fiber.StatusBadRequest, "sync.validation.since")
	}

	limit := 0
	if h.Cfg != nil {
		limit = h.Cfg.SyncPageLimit
	}

	result, err := services.PullChanges(h.DB, tenantID, since, limit)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "sync.validation.input")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "pullChanges")
	}

	// Cursor bookkeeping is best-effort: the pull is idempotent, so a failed
	// cursor write only means the device repeats from the old position.
	if deviceID != "" {
		if err := services.AdvanceCursor(h.DB, deviceID, tenantID, userID, result.NewCursor); err != nil {
			log.Printf("pull: cursor update failed for device %s: %v", deviceID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"records":   result.Records,
		"newCursor": result.NewCursor,
	})
}

// PushBatch handles POST /api/fields/sync/batch
// @Summary Push a batch of field edits
// @Description Process edits independently in submission order; one edit's failure does not abort others
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body object true "Batch payload: deviceId, userId, tenantId, fields"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /fields/sync/batch [post]
func (h *SyncHandler) PushBatch(c *fiber.Ctx) error {
	var body struct {
		DeviceID string                         `json:"deviceId"`
		UserID   string                         `json:"userId"`
		TenantID string                         `json:"tenantId"`
		Fields   types.FlexList[services.FieldEdit] `json:"fields"`
	}

	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "sync.validation.input")
	}
	if body.TenantID == "" || len(body.Fields) == 0 {
		return utils.ErrorResponse(c, "tenantId and fields are required", fiber.StatusBadRequest, "sync.validation.input")
	}

	results := services.PushBatch(h.DB, body.DeviceID, body.TenantID, body.UserID, body.Fields.Slice())

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"results": results,
	})
}
