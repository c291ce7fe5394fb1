package cluster

import (
	"time"

	"github.com/rs/xid"
)

// MintID generates a new cluster ID for the given run date.
//
// IDs are date-prefixed (YYYYMMDD) and suffixed with an xid, which is unique
// and sortable by creation time. The resulting IDs sort chronologically, and
// their lexicographic order is total, which the assignment tie-break relies on.
func MintID(runDate time.Time) string {
	return runDate.UTC().Format("20060102") + "-" + xid.New().String()
}
