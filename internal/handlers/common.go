// common.go
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
	"strconv"

	"github.com/agrostack/fieldsync/internal/models"
	"github.com/agrostack/fieldsync/internal/services"
	"github.com/gofiber/fiber/v2"
)

// actorID extracts the authenticated user's id from the auth middleware
// locals. Empty when the route runs without auth (unit tests).
func actorID(c *fiber.Ctx) string {
	user, ok := c.Locals("user").(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := user["id"].(string)
	return id
}

// deviceID returns the client device identifier header, nil when absent.
func deviceID(c *fiber.Ctx) *string {
	d := c.Get("X-Device-Id")
	if d == "" {
		return nil
	}
	return &d
}

// changeSource returns the validated X-Change-Source header, defaulting to
// "api". The "system" source is reserved for server-initiated writes.
func changeSource(c *fiber.Ctx) string {
	s := c.Get("X-Change-Source", models.SourceAPI)
	if !models.ValidChangeSource(s) || s == models.SourceSystem {
		return models.SourceAPI
	}
	return s
}

// parseSince parses the `since` query parameter as a version cursor.
func parseSince(c *fiber.Ctx) (uint64, error) {
	raw := c.Query("since", "0")
	return strconv.ParseUint(raw, 10, 64)
}

// changeContext assembles the mutation context for direct API writes.
func changeContext(c *fiber.Ctx, reason string) services.ChangeContext {
	return services.ChangeContext{
		ActorID:  actorID(c),
		DeviceID: deviceID(c),
		Source:   changeSource(c),
		Reason:   reason,
	}
}
