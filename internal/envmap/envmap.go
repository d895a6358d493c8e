// Package envmap defines the in-memory configuration map and the single
// value normalization rule shared by diffing and conflict detection.
package envmap

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	errs "github.com/illarion/envsync/internal/errors"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Map is a set of configuration keys and their values.
type Map map[string]string

// ValidKey reports whether k is an acceptable config key.
func ValidKey(k string) bool {
	return keyPattern.MatchString(k)
}

// Validate returns ErrInvalidKey for the first invalid key in sorted order.
func (m Map) Validate() error {
	for _, k := range m.Keys() {
		if !ValidKey(k) {
			return fmt.Errorf("%w: %q", errs.ErrInvalidKey, k)
		}
	}
	return nil
}

// Keys returns the keys of m in sorted order.
func (m Map) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	maps.Copy(out, m)
	return out
}

// Equal reports whether m and o hold the same keys with identical values.
func (m Map) Equal(o Map) bool {
	return maps.Equal(m, o)
}

// Normalize trims surrounding whitespace and strips one matching pair of
// surrounding double quotes.
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	return v
}

// Marshal serializes m canonically: keys are emitted in sorted order so equal
// maps always produce identical bytes.
func Marshal(m Map) ([]byte, error) {
	if m == nil {
		m = Map{}
	}
	// encoding/json sorts map keys
	return json.Marshal(map[string]string(m))
}

// Unmarshal parses a canonical serialization produced by Marshal.
func Unmarshal(data []byte) (Map, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", errs.ErrMalformedPayload)
	}
	m := Map(raw)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedPayload, err)
	}
	return m, nil
}
