// Package diff decides whether two observed states differ and renders the
// artifact attached to change notifications.
package diff

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/pmezard/go-difflib/difflib"
)

// distance is not computed above this many runes per side.
const maxDistanceInput = 4096

type TextResult struct {
	Changed bool
	Unified string
	Added   []string
	Removed []string
	// Distance is the edit distance, -1 when the inputs are too large.
	Distance int
}

// Text compares two extracted values. Any inequality is a change.
func Text(prev, cur string) TextResult {
	if prev == cur {
		return TextResult{Distance: 0}
	}

	a := difflib.SplitLines(prev)
	b := difflib.SplitLines(cur)
	res := TextResult{Changed: true, Distance: -1}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "previous",
		ToFile:   "current",
		Context:  2,
	})
	if err == nil {
		res.Unified = unified
	}

	m := difflib.NewMatcher(a, b)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'd':
			res.Removed = appendLines(res.Removed, a[op.I1:op.I2])
		case 'i':
			res.Added = appendLines(res.Added, b[op.J1:op.J2])
		case 'r':
			res.Removed = appendLines(res.Removed, a[op.I1:op.I2])
			res.Added = appendLines(res.Added, b[op.J1:op.J2])
		}
	}

	if len([]rune(prev)) <= maxDistanceInput && len([]rune(cur)) <= maxDistanceInput {
		res.Distance = levenshtein.ComputeDistance(prev, cur)
	}
	return res
}

func appendLines(dst, lines []string) []string {
	for _, l := range lines {
		dst = append(dst, strings.TrimRight(l, "\r\n"))
	}
	return dst
}
