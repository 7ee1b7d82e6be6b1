package monitor

import "time"

// shouldStop reports whether the run crossed a day boundary. The process
// exits on a new calendar day so the supervisor restarts it with a fresh
// dated log file.
func shouldStop(startedAt, now time.Time) bool {
	y1, m1, d1 := startedAt.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}
