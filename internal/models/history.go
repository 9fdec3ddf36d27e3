package models

import (
	"time"
)

// Change sources recorded on boundary history entries.
const (
	SourceMobile = "mobile"
	SourceWeb    = "web"
	SourceAPI    = "api"
	SourceSystem = "system"
)

// BoundaryHistoryEntry is an immutable audit record of one accepted boundary
// mutation. Entries for a field form a contiguous ascending sequence by
// VersionAtChange. The table is insert-only; UPDATE/DELETE are rejected by
// database triggers installed at migration time.
type BoundaryHistoryEntry struct {
	HistoryID        uint64  `gorm:"primaryKey;autoIncrement" json:"historyId"`
	FieldID          string  `gorm:"type:char(36);not null;index:idx_field_version,unique,priority:1" json:"fieldId"`
	VersionAtChange  uint64  `gorm:"not null;index:idx_field_version,unique,priority:2" json:"version_at_change"`
	PreviousBoundary JSON    `gorm:"type:json" json:"previousBoundary"`
	NewBoundary      JSON    `gorm:"type:json" json:"newBoundary"`
	AreaDelta        float64 `gorm:"not null;default:0" json:"areaDelta"`
	ActorID          string  `gorm:"type:char(36);size:36" json:"actorId"`
	Reason           string  `gorm:"size:512" json:"reason,omitempty"`
	ChangeSource     string  `gorm:"size:16;not null" json:"changeSource"`
	DeviceID         *string `gorm:"type:char(36)" json:"deviceId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// TableName overrides the table name for BoundaryHistoryEntry
func (BoundaryHistoryEntry) TableName() string {
	return "boundary_history"
}

// ValidChangeSource reports whether s is one of the recognized sources.
func ValidChangeSource(s string) bool {
	switch s {
	case SourceMobile, SourceWeb, SourceAPI, SourceSystem:
		return true
	}
	return false
}
