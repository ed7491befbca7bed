package models

import (
	"time"

	"github.com/lib/pq"
)

// Post rows are ordered by the (updated, id) pair; idx_posts_cursor backs
// cursor paging for both the public feed and peer pulls.
type Post struct {
	ID            string         `json:"id" gorm:"primaryKey;type:text;index:idx_posts_cursor,priority:2"`
	Updated       time.Time      `json:"updated" gorm:"type:timestamp with time zone;not null;index:idx_posts_cursor,priority:1"`
	Published     time.Time      `json:"published" gorm:"type:timestamp with time zone"`
	Author        string         `json:"author" gorm:"type:text"`
	CategoryTerms pq.StringArray `json:"categoryTerms" gorm:"type:text[]"`
	Origin        string         `json:"origin" gorm:"type:text;index"`
	Document      string         `json:"document" gorm:"type:text"`
	CDate         time.Time      `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate         time.Time      `json:"mdate" gorm:"autoUpdateTime"`
}
