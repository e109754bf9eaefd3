// Package version normalizes arbitrary version strings into comparable
// forms. Container images carry versions as free text ("v1.2.3", "release-2",
// git commit hashes), so comparison first classifies the string and only
// orders values that actually carry a numeric tuple.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	hashPattern  = regexp.MustCompile(`^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$`)
	stripPattern = regexp.MustCompile(`[^0-9._]+`)
	digitPattern = regexp.MustCompile(`[0-9]`)
)

// Normalized is the comparable form of a version string. A version is either
// numeric (an ordered tuple of integers extracted from the raw string) or
// opaque (content hashes and digit-free strings, compared for equality only).
type Normalized struct {
	raw     string
	nums    []int
	numeric bool
}

// Normalize classifies and parses a raw version string.
//
// Digit-free strings and 40/64 hex-character content hashes stay opaque.
// Anything else is reduced to digits, dots and underscores (underscore
// treated as dot), split on dots, and the longest contiguous run of
// non-empty segments becomes the integer tuple.
func Normalize(raw string) Normalized {
	if !digitPattern.MatchString(raw) || hashPattern.MatchString(raw) {
		return Normalized{raw: raw}
	}
	stripped := strings.ReplaceAll(stripPattern.ReplaceAllString(raw, ""), "_", ".")
	segments := strings.Split(stripped, ".")

	var best, run []int
	for _, seg := range segments {
		if seg == "" {
			if len(run) > len(best) {
				best = run
			}
			run = nil
			continue
		}
		n, err := strconv.Atoi(seg)
		if err != nil {
			// Segment overflowed or was malformed despite stripping.
			if len(run) > len(best) {
				best = run
			}
			run = nil
			continue
		}
		run = append(run, n)
	}
	if len(run) > len(best) {
		best = run
	}
	if len(best) == 0 {
		return Normalized{raw: raw}
	}
	return Normalized{raw: raw, nums: best, numeric: true}
}

// Raw returns the original version string.
func (n Normalized) Raw() string { return n.raw }

// Numeric reports whether the version carries a comparable integer tuple.
func (n Normalized) Numeric() bool { return n.numeric }

// Tuple returns a copy of the integer tuple, nil for opaque versions.
func (n Normalized) Tuple() []int {
	if !n.numeric {
		return nil
	}
	out := make([]int, len(n.nums))
	copy(out, n.nums)
	return out
}

// Equal reports version equality: numeric versions are equal when their
// tuples match, opaque versions only when byte-identical.
func Equal(a, b Normalized) bool {
	if a.numeric != b.numeric {
		return false
	}
	if !a.numeric {
		return a.raw == b.raw
	}
	if len(a.nums) != len(b.nums) {
		return false
	}
	for i := range a.nums {
		if a.nums[i] != b.nums[i] {
			return false
		}
	}
	return true
}

// Compare orders two normalized versions: -1 when a < b, 0 when equal for
// ordering purposes, 1 when a > b. Numeric tuples compare lexicographically
// and always order above opaque values, which keeps sorting total and
// deterministic even for hashes and unparseable strings. Two distinct opaque
// values compare as 0 here; use Equal for equality checks.
func Compare(a, b Normalized) int {
	if a.numeric && !b.numeric {
		return 1
	}
	if !a.numeric && b.numeric {
		return -1
	}
	if !a.numeric {
		return 0
	}
	for i := 0; i < len(a.nums) && i < len(b.nums); i++ {
		if a.nums[i] != b.nums[i] {
			if a.nums[i] < b.nums[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a.nums) < len(b.nums):
		return -1
	case len(a.nums) > len(b.nums):
		return 1
	}
	return 0
}
