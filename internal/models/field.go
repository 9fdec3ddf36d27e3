package models

import (
	"time"
)

// FieldRecord represents one geospatial field with its current boundary.
// ServerVersion starts at 1 on creation and increments by exactly 1 on every
// accepted mutation. Fields are never hard-deleted; Deleted marks a tombstone
// and the version still increments so sync clients pick the deletion up.
type FieldRecord struct {
	FieldID       string  `gorm:"type:char(36);primaryKey" json:"id"`
	TenantID      string  `gorm:"type:char(36);not null;index:idx_tenant_version,priority:1" json:"tenantId"`
	Name          string  `gorm:"size:255;not null" json:"name"`
	CropType      string  `gorm:"size:64" json:"cropType,omitempty"`
	Boundary      JSON    `gorm:"type:json" json:"boundary"`
	Centroid      JSON    `gorm:"type:json" json:"centroid"`
	AreaHectares  float64 `gorm:"not null;default:0" json:"areaHectares"`
	ServerVersion uint64  `gorm:"not null;default:0;index:idx_tenant_version,priority:2" json:"server_version"`
	Deleted       bool    `gorm:"not null;default:false" json:"deleted"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName overrides the table name for FieldRecord
func (FieldRecord) TableName() string {
	return "field_records"
}
