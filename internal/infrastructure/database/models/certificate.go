package models

import "time"

// Certificate keeps the canonical document serialization alongside the
// decoded columns; replay detection compares against Document byte for byte.
type Certificate struct {
	Fingerprint string    `json:"fingerprint" gorm:"primaryKey;type:text"`
	Subject     string    `json:"subject" gorm:"type:text;index"`
	Issuer      string    `json:"issuer" gorm:"type:text"`
	Algorithm   string    `json:"algorithm" gorm:"type:text"`
	PublicKey   []byte    `json:"publicKey" gorm:"type:bytea"`
	NotBefore   time.Time `json:"notBefore" gorm:"type:timestamp with time zone"`
	NotAfter    time.Time `json:"notAfter" gorm:"type:timestamp with time zone"`
	Signature   []byte    `json:"signature" gorm:"type:bytea"`
	Revoked     bool      `json:"revoked" gorm:"type:boolean;not null;default:false"`
	Document    string    `json:"document" gorm:"type:text"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate       time.Time `json:"mdate" gorm:"autoUpdateTime"`
}
