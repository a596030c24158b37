package status

import "time"

// DurationUntilWallClockMultiple returns the time from now until the next
// instant strictly after now that is an exact multiple of period since the
// Unix epoch. When now is already on a multiple, a full period is returned.
func DurationUntilWallClockMultiple(now time.Time, period time.Duration) time.Duration {
	if period <= 0 {
		return 0
	}
	rem := time.Duration(now.UnixNano() % int64(period))
	if rem < 0 {
		// Before the epoch the remainder is negative.
		rem += period
	}
	return period - rem
}
