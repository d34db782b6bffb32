package clock

import "time"

// Now returns the current UTC time formatted for API response envelopes.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// WarrantyEnd computes the warranty expiry: purchase date plus one
// calendar year with month and day preserved. A Feb-29 purchase rolls
// forward to Mar-1 of the target year (time.AddDate normalization).
func WarrantyEnd(purchase time.Time) time.Time {
	return purchase.AddDate(1, 0, 0)
}

// SevenDaysAgo is the lower bound used by the recent-activity counters.
func SevenDaysAgo(now time.Time) time.Time {
	return now.AddDate(0, 0, -7)
}
