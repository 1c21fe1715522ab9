// Package keyset derives the distinct reference keys a submission needs and provides
// the set and map types the reference data cache is built from.
//
// Two matching modes exist. Ordinal sets (Set) compare keys exactly. Fold sets and
// maps (FoldSet, FoldMap) compare strings ignoring case and surrounding whitespace by
// normalising keys with Fold on both insert and lookup. Postcodes, learning aim
// references and organisation codes use fold matching.
package keyset

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Fold normalises a string key for fold matching: surrounding whitespace is removed
// and the key is upper-cased. Extraction, store queries and cache lookups all fold
// through here.
func Fold(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Set is an ordinal set of keys.
type Set[K cmp.Ordered] map[K]struct{}

// NewSet returns a set holding the given values.
func NewSet[K cmp.Ordered](values ...K) Set[K] {
	s := make(Set[K], len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}

	return s
}

// Contains reports whether key is in the set.
func (s Set[K]) Contains(key K) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of keys in the set.
func (s Set[K]) Len() int {
	return len(s)
}

// Values returns the keys in ascending order.
func (s Set[K]) Values() []K {
	return slices.Sorted(maps.Keys(s))
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s Set[K]) MarshalJSON() ([]byte, error) {
	values := s.Values()
	if values == nil {
		values = []K{}
	}

	return json.Marshal(values)
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *Set[K]) UnmarshalJSON(data []byte) error {
	var values []K
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	*s = NewSet(values...)

	return nil
}

// FoldSet is a case-insensitive set of string keys.
type FoldSet map[string]struct{}

// NewFoldSet returns a fold set holding the given values.
func NewFoldSet(values ...string) FoldSet {
	s := make(FoldSet, len(values))
	for _, v := range values {
		s[Fold(v)] = struct{}{}
	}

	return s
}

// Contains reports whether key is in the set, ignoring case.
func (s FoldSet) Contains(key string) bool {
	_, ok := s[Fold(key)]
	return ok
}

// Len returns the number of keys in the set.
func (s FoldSet) Len() int {
	return len(s)
}

// Values returns the normalised keys in ascending order.
func (s FoldSet) Values() []string {
	return slices.Sorted(maps.Keys(s))
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s FoldSet) MarshalJSON() ([]byte, error) {
	values := s.Values()
	if values == nil {
		values = []string{}
	}

	return json.Marshal(values)
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *FoldSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	*s = NewFoldSet(values...)

	return nil
}

// FoldMap is a case-insensitive map from string keys to values.
type FoldMap[V any] map[string]V

// NewFoldMap indexes values by the key returned from keyFn. When two values share a
// key, ignoring case, the first one wins.
func NewFoldMap[V any](values []V, keyFn func(V) string) FoldMap[V] {
	m := make(FoldMap[V], len(values))

	for _, v := range values {
		key := Fold(keyFn(v))
		if _, exists := m[key]; !exists {
			m[key] = v
		}
	}

	return m
}

// Get returns the value stored for key, ignoring case.
func (m FoldMap[V]) Get(key string) (V, bool) {
	v, ok := m[Fold(key)]
	return v, ok
}

// Len returns the number of entries in the map.
func (m FoldMap[V]) Len() int {
	return len(m)
}

// Values returns the stored values ordered by normalised key.
func (m FoldMap[V]) Values() []V {
	keys := slices.Sorted(maps.Keys(m))
	values := make([]V, 0, len(keys))

	for _, k := range keys {
		values = append(values, m[k])
	}

	return values
}

// Distinct unions the given key slices and removes duplicates, keeping first-seen order.
//
// Zero values are dropped: 0 is never a valid StdCode, EmpID or UKPRN, so no store is
// asked for it, and a rule looking 0 up in the cache finds nothing and reports the
// value as unknown.
func Distinct[K comparable](parts ...[]K) []K {
	var zero K

	seen := make(map[K]struct{})
	result := make([]K, 0)

	for _, part := range parts {
		for _, key := range part {
			if key == zero {
				continue
			}

			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			result = append(result, key)
		}
	}

	return result
}

// DistinctFold is Distinct with fold matching. The first spelling seen is kept with its
// surrounding whitespace removed; empty and whitespace-only keys are dropped.
func DistinctFold(parts ...[]string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0)

	for _, part := range parts {
		for _, key := range part {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}

			folded := Fold(key)
			if _, ok := seen[folded]; ok {
				continue
			}

			seen[folded] = struct{}{}
			result = append(result, key)
		}
	}

	return result
}
