package conflict

import (
	"errors"
	"slices"
	"testing"

	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		local  envmap.Map
		remote envmap.Map
		want   []string
	}{
		{
			name:   "different values",
			local:  envmap.Map{"A": "2", "B": "same"},
			remote: envmap.Map{"A": "1", "B": "same"},
			want:   []string{"A"},
		},
		{
			name:   "formatting only",
			local:  envmap.Map{"A": `"1"`, "B": "  x "},
			remote: envmap.Map{"A": "1", "B": "x"},
			want:   []string{},
		},
		{
			name:   "one sided keys",
			local:  envmap.Map{"L": "1"},
			remote: envmap.Map{"R": "1"},
			want:   []string{},
		},
		{
			name:   "only one quote layer",
			local:  envmap.Map{"A": `""1""`},
			remote: envmap.Map{"A": "1"},
			want:   []string{"A"},
		},
		{
			name:   "sorted",
			local:  envmap.Map{"Z": "1", "M": "1", "A": "1"},
			remote: envmap.Map{"Z": "2", "M": "2", "A": "2"},
			want:   []string{"A", "M", "Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.local, tt.remote)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
			// Symmetric
			if back := Detect(tt.remote, tt.local); !slices.Equal(back, tt.want) {
				t.Errorf("Detect() reversed = %v, want %v", back, tt.want)
			}
		})
	}
}

func TestResolvePolicies(t *testing.T) {
	local := envmap.Map{"A": "2", "B": "l"}
	remote := envmap.Map{"A": "1", "B": "r"}
	conflicts := Detect(local, remote)

	d, err := Resolve(conflicts, local, remote, ForceRemote)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if d["A"] != TakeRemote || d["B"] != TakeRemote {
		t.Errorf("ForceRemote decisions = %v", d)
	}

	d, err = Resolve(conflicts, local, remote, ForceLocal)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if d["A"] != TakeLocal || d["B"] != TakeLocal {
		t.Errorf("ForceLocal decisions = %v", d)
	}

	var asked []string
	d, err = Resolve([]string{"B", "A", "B"}, local, remote, Interactive(func(key, l, r string) (Decision, error) {
		asked = append(asked, key)
		if l != local[key] || r != remote[key] {
			t.Errorf("callback for %s got %q/%q", key, l, r)
		}
		if key == "A" {
			return TakeRemote, nil
		}
		return TakeLocal, nil
	}))
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if !slices.Equal(asked, []string{"A", "B"}) {
		t.Errorf("callback order = %v, want [A B] once each", asked)
	}
	if d["A"] != TakeRemote || d["B"] != TakeLocal {
		t.Errorf("Interactive decisions = %v", d)
	}
}

func TestResolveErrors(t *testing.T) {
	local := envmap.Map{"A": "2"}
	remote := envmap.Map{"A": "1"}

	_, err := Resolve([]string{"A"}, local, remote, Interactive(func(string, string, string) (Decision, error) {
		return 0, errs.ErrAborted
	}))
	if !errors.Is(err, errs.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}

	_, err = Resolve([]string{"A"}, local, remote, Interactive(func(string, string, string) (Decision, error) {
		return Decision(42), nil
	}))
	if !errors.Is(err, errs.ErrUnresolved) {
		t.Errorf("expected ErrUnresolved, got %v", err)
	}

	if _, err := Resolve([]string{"A"}, local, remote, Interactive(nil)); err == nil {
		t.Error("expected error for nil callback")
	}
	if _, err := Resolve([]string{"A"}, local, remote, Policy{}); err == nil {
		t.Error("expected error for zero policy")
	}

	// No conflicts means the callback is never needed
	d, err := Resolve(nil, local, remote, Interactive(nil))
	if err != nil || len(d) != 0 {
		t.Errorf("empty resolve = %v, %v", d, err)
	}
}

func TestMergeCompleteness(t *testing.T) {
	cases := []struct {
		local  envmap.Map
		remote envmap.Map
	}{
		{envmap.Map{}, envmap.Map{}},
		{envmap.Map{"A": "1"}, envmap.Map{}},
		{envmap.Map{}, envmap.Map{"A": "1"}},
		{envmap.Map{"A": "1", "B": "2", "C": `"3"`}, envmap.Map{"B": "2", "C": "3", "D": "4"}},
		{envmap.Map{"A": "x", "B": "y"}, envmap.Map{"A": "p", "B": "q", "C": "r"}},
	}

	for _, c := range cases {
		for _, policy := range []Policy{ForceLocal, ForceRemote} {
			decisions, err := Resolve(Detect(c.local, c.remote), c.local, c.remote, policy)
			if err != nil {
				t.Fatalf("Failed to resolve: %v", err)
			}
			merged, err := Merge(c.local, c.remote, decisions)
			if err != nil {
				t.Fatalf("Failed to merge: %v", err)
			}

			union := map[string]bool{}
			for k := range c.local {
				union[k] = true
			}
			for k := range c.remote {
				union[k] = true
			}
			if len(merged) != len(union) {
				t.Errorf("%s: merged has %d keys, union has %d", policy, len(merged), len(union))
			}
			for k := range union {
				if _, ok := merged[k]; !ok {
					t.Errorf("%s: key %s lost", policy, k)
				}
			}

			for k, lv := range c.local {
				rv, ok := c.remote[k]
				if ok && envmap.Normalize(lv) == envmap.Normalize(rv) &&
					envmap.Normalize(merged[k]) != envmap.Normalize(lv) {
					t.Errorf("%s: shared key %s = %q", policy, k, merged[k])
				}
			}
		}
	}
}

func TestMergeUnresolved(t *testing.T) {
	_, err := Merge(envmap.Map{"A": "2"}, envmap.Map{"A": "1"}, nil)
	if !errors.Is(err, errs.ErrUnresolved) {
		t.Errorf("expected ErrUnresolved, got %v", err)
	}
}

func TestReconcileDiscarded(t *testing.T) {
	local := envmap.Map{"A": "2", "B": "keep", "L": "only"}
	remote := envmap.Map{"A": "1", "B": "theirs", "R": "only"}

	out, err := Reconcile(local, remote, Interactive(func(key, _, _ string) (Decision, error) {
		if key == "A" {
			return TakeRemote, nil
		}
		return TakeLocal, nil
	}))
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	want := envmap.Map{"A": "1", "B": "keep", "L": "only", "R": "only"}
	if !out.Merged.Equal(want) {
		t.Errorf("merged = %v, want %v", out.Merged, want)
	}
	if !slices.Equal(out.Conflicts, []string{"A", "B"}) {
		t.Errorf("conflicts = %v", out.Conflicts)
	}
	wantDiscarded := []Entry{{Key: "A", Value: "2"}, {Key: "B", Value: "theirs"}}
	if !slices.Equal(out.Discarded, wantDiscarded) {
		t.Errorf("discarded = %v, want %v", out.Discarded, wantDiscarded)
	}
}
