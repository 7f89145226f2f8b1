// ollamachat/sources/psql/models/session.go
package models

import (
	"time"
)

// SessionRecord is one client's serialized session state.
type SessionRecord struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Data      []byte    `json:"-" gorm:"type:bytea;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SessionRecord) TableName() string {
	return "chat_sessions"
}
