// Package schedule resolves recurring per-track slots against the
// current wall clock and the durable slot ledger.
//
// Resolution is pure: callers inject the current time and a ledger
// lookup, so tests can drive arbitrary clocks and ledger states.
package schedule

import (
	"fmt"
	"time"
)

// CatchUpWindow is the grace period, in whole hours, during which a
// slot may still fire if the process was unavailable at the exact
// minute: a slot at hour H stays due until H+CatchUpWindow:00. Beyond
// it the slot is permanently skipped; fresh content beats exhaustive
// backfill.
const CatchUpWindow = 3

// ConsumedFunc reports whether a slot key is already present in the
// ledger.
type ConsumedFunc func(key string) bool

// IsSlotDue reports whether any of the track's active slots is due at
// now, returning the due slot's key. A slot for hour H, minute M is
// due when now is inside hour H at/after minute M, or when now's hour
// is later than H but still before H+CatchUpWindow. The minute is
// deliberately not re-checked inside the window, so a missed slot can
// fire as late as minute 59 of the window's last hour. Either way the
// key must be absent from the ledger.
func IsSlotDue(t Track, cadence int, now time.Time, consumed ConsumedFunc) (string, bool) {
	for _, h := range t.ActiveHours(cadence) {
		inHour := now.Hour() == h && now.Minute() >= t.Minute
		inWindow := now.Hour() > h && now.Hour() < h+CatchUpWindow
		if !inHour && !inWindow {
			continue
		}
		key := SlotKey(now, t.Language, t.Kind, h, t.Minute)
		if consumed(key) {
			continue
		}
		return key, true
	}
	return "", false
}

// PendingSlot describes the next not-yet-consumed future occurrence of
// a track. Informational only; launches are decided by IsSlotDue.
type PendingSlot struct {
	At  time.Time
	Key string
}

func (p PendingSlot) String() string {
	return fmt.Sprintf("%s at %s", p.Key, p.At.Format("Mon 15:04"))
}

// NextPendingSlot scans today then tomorrow over the cadence-limited
// hours and returns the chronologically nearest future slot whose key
// is absent from the ledger.
func NextPendingSlot(t Track, cadence int, now time.Time, consumed ConsumedFunc) (PendingSlot, bool) {
	for dayOff := 0; dayOff < 2; dayOff++ {
		day := now.AddDate(0, 0, dayOff)
		for _, h := range t.ActiveHours(cadence) {
			at := time.Date(day.Year(), day.Month(), day.Day(), h, t.Minute, 0, 0, now.Location())
			if !at.After(now) {
				continue
			}
			key := SlotKey(day, t.Language, t.Kind, h, t.Minute)
			if consumed(key) {
				continue
			}
			return PendingSlot{At: at, Key: key}, true
		}
	}
	return PendingSlot{}, false
}
