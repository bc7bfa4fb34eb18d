// Package functional holds the small generic slice helpers the bus packages
// share.
package functional

import (
	"cmp"
	"slices"
)

func Map[T any, R any](list []T, fn func(T) R) []R {
	return MapWithIndex(list, func(x T, _ int) R {
		return fn(x)
	})
}

func MapWithIndex[T any, R any](list []T, fn func(T, int) R) []R {
	ret := make([]R, len(list))

	for pos, x := range list {
		ret[pos] = fn(x, pos)
	}

	return ret
}

func Filter[T any](list []T, fn func(T) bool) []T {
	ret := []T{}

	for _, x := range list {
		if fn(x) {
			ret = append(ret, x)
		}
	}

	return ret
}

func Find[T any](list []T, fn func(T) bool) *T {
	for _, x := range list {
		if fn(x) {
			return &x
		}
	}
	return nil
}

// DeDup keeps the first element of every key produced by fnc.
func DeDup[T any](list []T, fnc func(T) string) []T {
	cache := map[string]struct{}{}
	ret := []T{}

	for _, rec := range list {
		r := fnc(rec)
		if _, ok := cache[r]; !ok {
			ret = append(ret, rec)
			cache[r] = struct{}{}
		}
	}

	return ret
}

// Difference returns the elements of list that are not in exclude.
func Difference[T comparable](list, exclude []T) []T {
	skip := make(map[T]struct{}, len(exclude))
	for _, x := range exclude {
		skip[x] = struct{}{}
	}

	return Filter(list, func(x T) bool {
		_, ok := skip[x]
		return !ok
	})
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
