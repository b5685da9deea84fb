// Package uustat implements the job-inspection and control core behind the
// uustat command: listing queued work and execute files, grouping multi-line
// work files into logical jobs, filtering by system/user/command/age, and
// killing or rejuvenating jobs (spec.md §4.6).
package uustat

import "time"

// allGrades is the minGrade sentinel passed to Spool.ListWork when a query
// should span every grade, not just jobs at or above some priority cutoff.
const allGrades = 'z'

// Filter selects which jobs WorkEntries/ExecuteEntries return. Each
// non-empty list is OR'd internally and negated as a whole by its Not flag
// — the same `-s`/`-S`, `-u`/`-U`, `-c`/`-C` inclusion/exclusion pairing
// original_source/uustat.c exposes. An empty list imposes no restriction on
// that class. Classes themselves AND together.
type Filter struct {
	Systems    []string
	NotSystems bool

	Users    []string
	NotUsers bool

	Commands    []string
	NotCommands bool

	// OldHours selects jobs at least this many hours old; -1 means
	// unset. YoungHours selects jobs at most this many hours old; -1
	// means unset. Both may be set at once to bound an age window.
	OldHours   int
	YoungHours int
}

// NoFilter matches every job.
func NoFilter() Filter {
	return Filter{OldHours: -1, YoungHours: -1}
}

func matchSet(value string, set []string, negate bool) bool {
	if len(set) == 0 {
		return true
	}
	found := false
	for _, v := range set {
		if v == "ALL" || v == value {
			found = true
			break
		}
	}
	if negate {
		return !found
	}
	return found
}

func (f Filter) systemAllowed(system string) bool {
	return matchSet(system, f.Systems, f.NotSystems)
}

func (f Filter) userAllowed(user string) bool {
	return matchSet(user, f.Users, f.NotUsers)
}

func (f Filter) commandAllowed(cmd string) bool {
	return matchSet(cmd, f.Commands, f.NotCommands)
}

// ageAllowed reports whether a job modified at t passes the -o/-y age
// window, per original_source/uustat.c's fsworkfiles cutoff comparison:
// -o keeps jobs whose mtime is at or before (now - OldHours), -y keeps
// jobs whose mtime is at or after (now - YoungHours).
func (f Filter) ageAllowed(t, now time.Time) bool {
	if f.OldHours >= 0 {
		cutoff := now.Add(-time.Duration(f.OldHours) * time.Hour)
		if t.After(cutoff) {
			return false
		}
	}
	if f.YoungHours >= 0 {
		cutoff := now.Add(-time.Duration(f.YoungHours) * time.Hour)
		if t.Before(cutoff) {
			return false
		}
	}
	return true
}
