package util

import "sort"

// PathKeyLess orders cache keys longest first, then lexicographically
// descending among keys of equal length. The order has no semantic meaning;
// it only makes cache dumps deterministic, with deep paths listed before
// their parents.
func PathKeyLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// SortPathKeys sorts keys in place by PathKeyLess.
func SortPathKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool { return PathKeyLess(keys[i], keys[j]) })
}
