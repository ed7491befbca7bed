package models

import "time"

type Peer struct {
	Identifier        string    `json:"identifier" gorm:"primaryKey;type:text"`
	Endpoint          string    `json:"endpoint" gorm:"type:text"`
	Name              string    `json:"name" gorm:"type:text"`
	TrustState        string    `json:"trustState" gorm:"type:text;not null;default:'unknown'"`
	Fingerprint       string    `json:"fingerprint" gorm:"type:text;index"`
	CursorUpdated     time.Time `json:"cursorUpdated" gorm:"type:timestamp with time zone"`
	CursorID          string    `json:"cursorID" gorm:"type:text"`
	PushCursorUpdated time.Time `json:"pushCursorUpdated" gorm:"type:timestamp with time zone"`
	PushCursorID      string    `json:"pushCursorID" gorm:"type:text"`
	CDate             time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate             time.Time `json:"mdate" gorm:"autoUpdateTime"`
}
