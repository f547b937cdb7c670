package ledger

import "time"

// StartOfUTCDay returns 00:00:00 UTC of the day containing now. Every daily
// ceiling and per-day dedupe is measured from this instant.
func StartOfUTCDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextUTCDay returns the instant the current daily window closes.
func NextUTCDay(now time.Time) time.Time {
	return StartOfUTCDay(now).AddDate(0, 0, 1)
}
