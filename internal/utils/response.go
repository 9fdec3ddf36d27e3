package utils

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponse sends a standard error response
func ErrorResponse(c *fiber.Ctx, message string, status int, errorType string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      errorType,
	})
}

// VersionConflictResponse sends a 409 with the current server state and ETag
// so the client can re-base and retry.
func VersionConflictResponse(c *fiber.Ctx, serverData interface{}, currentEtag string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"status":       fiber.StatusConflict,
		"message":      "E_VERSION - Refresh and reconcile with current version and retry.",
		"ok":           false,
		"versionError": true,
		"error":        "Conflict",
		"serverData":   serverData,
		"currentEtag":  currentEtag,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"url":          c.OriginalURL(),
		"type":         "version",
	})
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"status":    fiber.StatusNotFound,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// MutationSuccessResponse sends a success response for accepted field writes
func MutationSuccessResponse(c *fiber.Ctx, field interface{}, newVersion uint64, etag string) error {
	c.Set("ETag", etag)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":    "Success",
		"ok":         true,
		"newVersion": fmt.Sprintf("%d", newVersion),
		"etag":       etag,
		"field":      field,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status       int    `json:"status"`
	Message      string `json:"message"`
	Ok           bool   `json:"ok"`
	Timestamp    string `json:"timestamp"`
	URL          string `json:"url"`
	Type         string `json:"type,omitempty"`
	VersionError bool   `json:"versionError,omitempty"`
}

// SuccessResponseStruct defines the schema for mutation success responses
type SuccessResponseStruct struct {
	Message    string      `json:"message"`
	Ok         bool        `json:"ok"`
	NewVersion string      `json:"newVersion"`
	Etag       string      `json:"etag"`
	Field      interface{} `json:"field"`
	Timestamp  string      `json:"timestamp"`
}
