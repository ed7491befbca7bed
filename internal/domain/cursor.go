package domain

import (
	"fmt"
	"time"
)

// Cursor is a position in the (updated, id) total order over posts. The
// ordering is by updated timestamp first, with the post identifier breaking
// ties lexicographically.
type Cursor struct {
	Updated time.Time
	ID      string
}

// Less reports whether c precedes o in the total order.
func (c Cursor) Less(o Cursor) bool {
	if !c.Updated.Equal(o.Updated) {
		return c.Updated.Before(o.Updated)
	}
	return c.ID < o.ID
}

// IsZero reports whether the cursor points before the beginning of the feed.
func (c Cursor) IsZero() bool {
	return c.Updated.IsZero() && c.ID == ""
}

func (c Cursor) String() string {
	if c.IsZero() {
		return "(start)"
	}
	return fmt.Sprintf("(%s, %s)", c.Updated.UTC().Format(time.RFC3339Nano), c.ID)
}
