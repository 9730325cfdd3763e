package audit

import "time"

func testNow() time.Time {
	return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
}
