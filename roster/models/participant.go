package models

import "time"

// Participant is a chat participant known to the roster
type Participant struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	FullName  string    `gorm:"not null" json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName overrides the default gorm table name
func (Participant) TableName() string {
	return "participants"
}
