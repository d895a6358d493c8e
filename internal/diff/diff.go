// Package diff computes key-level change summaries between config maps and
// renders text diffs of their dotenv form.
package diff

import (
	"slices"

	"github.com/illarion/envsync/internal/envmap"
)

// Summary lists the keys added, modified and deleted between two maps.
// Each list is sorted and holds no duplicates.
type Summary struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether the summary records no change.
func (s Summary) Empty() bool {
	return len(s.Added) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0
}

// Count returns the total number of changed keys.
func (s Summary) Count() int {
	return len(s.Added) + len(s.Modified) + len(s.Deleted)
}

// Compute returns the changes from before to after using exact string
// equality. A nil before means there is no previous version, so every key of
// after is added.
func Compute(before, after envmap.Map) Summary {
	return compute(before, after, func(a, b string) bool { return a == b })
}

// ComputeNormalized is Compute with values compared after
// envmap.Normalize, so formatting-only edits are not reported as modified.
func ComputeNormalized(before, after envmap.Map) Summary {
	return compute(before, after, func(a, b string) bool {
		return envmap.Normalize(a) == envmap.Normalize(b)
	})
}

func compute(before, after envmap.Map, equal func(a, b string) bool) Summary {
	s := Summary{
		Added:    []string{},
		Modified: []string{},
		Deleted:  []string{},
	}
	for k, v := range after {
		old, ok := before[k]
		switch {
		case !ok:
			s.Added = append(s.Added, k)
		case !equal(old, v):
			s.Modified = append(s.Modified, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			s.Deleted = append(s.Deleted, k)
		}
	}
	slices.Sort(s.Added)
	slices.Sort(s.Modified)
	slices.Sort(s.Deleted)
	return s
}
