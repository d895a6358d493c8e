// Package conflict detects and resolves divergence between a local and a
// remote config map.
//
// A key conflicts when both sides hold it with values that differ after
// envmap.Normalize. Keys present on one side only never conflict.
package conflict

import (
	"fmt"
	"maps"
	"slices"

	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
)

// Decision selects which side wins a conflicting key.
type Decision int

const (
	TakeLocal Decision = iota + 1
	TakeRemote
)

func (d Decision) String() string {
	switch d {
	case TakeLocal:
		return "local"
	case TakeRemote:
		return "remote"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// DecideFunc chooses a side for one conflicting key.
type DecideFunc func(key, local, remote string) (Decision, error)

type policyKind int

const (
	kindInteractive policyKind = iota + 1
	kindForceRemote
	kindForceLocal
)

// Policy is how Resolve settles conflicts.
type Policy struct {
	kind   policyKind
	decide DecideFunc
}

var (
	// ForceRemote resolves every conflict to the remote value.
	ForceRemote = Policy{kind: kindForceRemote}

	// ForceLocal resolves every conflict to the local value.
	ForceLocal = Policy{kind: kindForceLocal}
)

// Interactive asks fn once per conflicting key.
func Interactive(fn DecideFunc) Policy {
	return Policy{kind: kindInteractive, decide: fn}
}

func (p Policy) String() string {
	switch p.kind {
	case kindInteractive:
		return "interactive"
	case kindForceRemote:
		return "force-remote"
	case kindForceLocal:
		return "force-local"
	default:
		return "unset"
	}
}

// Detect returns the conflicting keys of local and remote, sorted.
func Detect(local, remote envmap.Map) []string {
	conflicts := []string{}
	for k, lv := range local {
		rv, ok := remote[k]
		if ok && envmap.Normalize(lv) != envmap.Normalize(rv) {
			conflicts = append(conflicts, k)
		}
	}
	slices.Sort(conflicts)
	return conflicts
}

// Resolve returns a decision for every key in conflicts. Interactive
// policies call their DecideFunc in key order; the first error stops
// resolution and is returned.
func Resolve(conflicts []string, local, remote envmap.Map, p Policy) (map[string]Decision, error) {
	decisions := make(map[string]Decision, len(conflicts))
	keys := slices.Sorted(slices.Values(conflicts))

	for _, k := range slices.Compact(keys) {
		switch p.kind {
		case kindForceRemote:
			decisions[k] = TakeRemote
		case kindForceLocal:
			decisions[k] = TakeLocal
		case kindInteractive:
			if p.decide == nil {
				return nil, fmt.Errorf("interactive policy without a decision callback")
			}
			d, err := p.decide(k, local[k], remote[k])
			if err != nil {
				return nil, fmt.Errorf("resolving %s: %w", k, err)
			}
			if d != TakeLocal && d != TakeRemote {
				return nil, fmt.Errorf("resolving %s: %w: %v", k, errs.ErrUnresolved, d)
			}
			decisions[k] = d
		default:
			return nil, fmt.Errorf("resolution policy is not set")
		}
	}
	return decisions, nil
}

// Merge returns the union of local and remote. Keys held by one side keep
// that side's value, equal keys keep the local value, and conflicting keys
// follow decisions. A conflicting key without a decision is ErrUnresolved.
func Merge(local, remote envmap.Map, decisions map[string]Decision) (envmap.Map, error) {
	merged := make(envmap.Map, len(local)+len(remote))
	maps.Copy(merged, remote)

	for k, lv := range local {
		rv, ok := remote[k]
		if !ok || envmap.Normalize(lv) == envmap.Normalize(rv) {
			merged[k] = lv
			continue
		}
		switch decisions[k] {
		case TakeLocal:
			merged[k] = lv
		case TakeRemote:
			merged[k] = rv
		default:
			return nil, fmt.Errorf("key %s: %w", k, errs.ErrUnresolved)
		}
	}
	return merged, nil
}

// Entry is a key and the value that lost its conflict.
type Entry struct {
	Key   string
	Value string
}

// Discarded returns the losing value of every decided conflict, in key
// order.
func Discarded(local, remote envmap.Map, decisions map[string]Decision) []Entry {
	var out []Entry
	for _, k := range slices.Sorted(maps.Keys(decisions)) {
		lv, lok := local[k]
		rv, rok := remote[k]
		if !lok || !rok {
			continue
		}
		switch decisions[k] {
		case TakeLocal:
			out = append(out, Entry{Key: k, Value: rv})
		case TakeRemote:
			out = append(out, Entry{Key: k, Value: lv})
		}
	}
	return out
}

// Outcome is the result of reconciling two maps.
type Outcome struct {
	Merged    envmap.Map
	Conflicts []string
	Decisions map[string]Decision
	Discarded []Entry
}

// Reconcile detects, resolves and merges in one step.
func Reconcile(local, remote envmap.Map, p Policy) (*Outcome, error) {
	conflicts := Detect(local, remote)
	decisions, err := Resolve(conflicts, local, remote, p)
	if err != nil {
		return nil, err
	}
	merged, err := Merge(local, remote, decisions)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Merged:    merged,
		Conflicts: conflicts,
		Decisions: decisions,
		Discarded: Discarded(local, remote, decisions),
	}, nil
}
