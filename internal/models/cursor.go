package models

import (
	"time"
)

// SyncCursor is a per-device, per-tenant bookmark: the highest server_version
// the device has successfully pulled. Monotonic non-decreasing.
type SyncCursor struct {
	CursorID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	DeviceID        string `gorm:"type:char(36);not null;index:idx_device_tenant,unique,priority:1" json:"deviceId"`
	TenantID        string `gorm:"type:char(36);not null;index:idx_device_tenant,unique,priority:2" json:"tenantId"`
	UserID          string `gorm:"type:char(36)" json:"userId"`
	LastSyncVersion uint64 `gorm:"not null;default:0" json:"lastSyncVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName overrides the table name for SyncCursor
func (SyncCursor) TableName() string {
	return "sync_cursors"
}
