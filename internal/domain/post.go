package domain

import "time"

// PostRecord is the stored form of a post: the indexed fields the feed is
// ordered and queried by, plus the canonical document serialization. The
// document is the source of truth; the other columns exist for ordering,
// paging and display.
type PostRecord struct {
	ID         string
	Updated    time.Time
	Published  time.Time
	Author     string
	Categories []string
	Origin     string
	Document   string
}

// Cursor returns the record's position in the (updated, id) total order.
func (r PostRecord) Cursor() Cursor {
	return Cursor{Updated: r.Updated, ID: r.ID}
}

// PostEvent is broadcast whenever a merge accepts a new or newer version of
// a post. Document carries the canonical serialization so subscribers need
// no follow-up fetch.
type PostEvent struct {
	ID       string    `json:"id"`
	Updated  time.Time `json:"updated"`
	Origin   string    `json:"origin"`
	Document string    `json:"document"`
}
