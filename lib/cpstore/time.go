package cpstore

import "time"

// sqliteTimeLayout matches the strftime format used in column defaults
// ('%Y-%m-%dT%H:%M:%fZ'), which emits fractional seconds.
const sqliteTimeLayout = time.RFC3339Nano

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTimeLayout, s)
	return t
}
