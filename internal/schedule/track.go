package schedule

import (
	"fmt"
	"sort"
	"time"
)

// Language is an ISO 639-1 code from the configured set.
type Language string

// Kind distinguishes the two job families.
type Kind string

const (
	KindLong  Kind = "long"
	KindShort Kind = "short"
)

// Track is one independently scheduled stream of jobs: a language, a
// job family, the recurring hours it may fire at, and a minute offset
// staggering tracks that share an hour. Tracks are immutable
// configuration; how many leading hours are active is the cadence.
type Track struct {
	Language Language
	Kind     Kind
	Hours    []int // ascending hour-of-day entries
	Minute   int   // 0-59 stagger offset
}

func (t Track) Name() string {
	return string(t.Language) + "/" + string(t.Kind)
}

// ActiveHours returns the cadence-limited leading hours of the track.
// Cadence <= 0 means no active slots; cadence beyond len(Hours) is
// clamped.
func (t Track) ActiveHours(cadence int) []int {
	if cadence <= 0 {
		return nil
	}
	if cadence > len(t.Hours) {
		cadence = len(t.Hours)
	}
	return t.Hours[:cadence]
}

// SlotKey derives the deterministic identifier of one scheduled
// occurrence. Two slots with the same key are the same occurrence;
// the ledger stores these keys to guarantee at-most-once launches.
func SlotKey(day time.Time, lang Language, kind Kind, hour, minute int) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", day.Format("2006-01-02"), lang, kind, hour, minute)
}

// Registry holds the configured tracks per family.
//
// The long family is batched: only the anchor track (first entry) is
// consulted for due-ness, and one launch fans out to every member
// language sharing a single generated image. Short tracks fire
// independently.
type Registry struct {
	Long  []Track
	Short []Track
}

// DefaultRegistry mirrors the production schedule tables.
func DefaultRegistry() Registry {
	return Registry{
		Long: []Track{
			{Language: "en", Kind: KindLong, Hours: []int{6, 12, 18}, Minute: 0},
			{Language: "es", Kind: KindLong, Hours: []int{6, 12, 18}, Minute: 10},
			{Language: "fr", Kind: KindLong, Hours: []int{6, 12, 18}, Minute: 20},
		},
		Short: []Track{
			{Language: "en", Kind: KindShort, Hours: []int{9, 15, 21}, Minute: 0},
			{Language: "es", Kind: KindShort, Hours: []int{9, 15, 21}, Minute: 15},
			{Language: "fr", Kind: KindShort, Hours: []int{9, 15, 21}, Minute: 30},
		},
	}
}

func (r Registry) Family(k Kind) []Track {
	if k == KindLong {
		return r.Long
	}
	return r.Short
}

// Anchor returns the track whose schedule drives the family's batch
// (long family only; short tracks are individually anchored).
func (r Registry) Anchor(k Kind) (Track, bool) {
	f := r.Family(k)
	if len(f) == 0 {
		return Track{}, false
	}
	return f[0], true
}

// Validate rejects registries the resolver cannot schedule.
func (r Registry) Validate() error {
	for _, ts := range [][]Track{r.Long, r.Short} {
		for _, t := range ts {
			if t.Language == "" {
				return fmt.Errorf("track %s: empty language", t.Name())
			}
			if t.Minute < 0 || t.Minute > 59 {
				return fmt.Errorf("track %s: minute %d out of range", t.Name(), t.Minute)
			}
			if len(t.Hours) == 0 {
				return fmt.Errorf("track %s: no recurring hours", t.Name())
			}
			if !sort.IntsAreSorted(t.Hours) {
				return fmt.Errorf("track %s: hours must be ascending", t.Name())
			}
			for _, h := range t.Hours {
				if h < 0 || h > 23 {
					return fmt.Errorf("track %s: hour %d out of range", t.Name(), h)
				}
			}
		}
	}
	return nil
}
