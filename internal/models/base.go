// Package models defines GORM database models for the encoding pipeline core.
package models

import "time"

// BoolPtr returns a pointer to a bool value.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolVal returns the value of a bool pointer, defaulting to true if nil.
func BoolVal(b *bool) bool {
	return b == nil || *b
}

// BaseModel provides the integer primary key and timestamps shared by every
// persisted entity. Per the data model, Videos are mutated only via
// state-machine transitions and never destroyed, so there is deliberately no
// DeletedAt / soft-delete column here.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetID returns the integer identifier.
func (b *BaseModel) GetID() uint {
	return b.ID
}

// Time is an alias for time.Time used in models.
type Time = time.Time

// Now returns the current time.
func Now() Time {
	return time.Now()
}
