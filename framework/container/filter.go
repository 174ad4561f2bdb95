package container

import (
	"fmt"
	"regexp"
	"strings"
)

// BindingFilter selects bindings.
type BindingFilter func(b *Binding) bool

// BindingComparator orders bindings; it returns a negative number when a
// sorts before b.
type BindingComparator func(a, b *Binding) int

// AnyTagValue matches any value in FilterByTagValue.
var AnyTagValue = anyTagValue{}

type anyTagValue struct{}

// All matches every binding.
func All(*Binding) bool { return true }

// FilterByTag matches bindings carrying every named tag.
func FilterByTag(tags ...string) BindingFilter {
	return func(b *Binding) bool {
		for _, t := range tags {
			if !b.HasTag(t) {
				return false
			}
		}
		return true
	}
}

// FilterByTagValue matches bindings whose tags hold the given values.
//
//	FilterByTagValue(map[string]any{"route.method": "GET", "route.path": AnyTagValue})
func FilterByTagValue(tags map[string]any) BindingFilter {
	return func(b *Binding) bool {
		for name, want := range tags {
			got, ok := b.TagValueOf(name)
			if !ok {
				return false
			}
			if _, wildcard := want.(anyTagValue); wildcard {
				continue
			}
			if !tagEqual(got, want) {
				return false
			}
		}
		return true
	}
}

func tagEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// FilterByKey matches keys against a pattern. "*" matches any run of
// characters within one segment and "?" a single one; segments are
// separated by "." or ":". A pattern without wildcards matches exactly.
func FilterByKey(pattern string) BindingFilter {
	re := keyPattern(pattern)
	return func(b *Binding) bool {
		return re.MatchString(b.Key())
	}
}

func keyPattern(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString("[^.:]*")
		case '?':
			sb.WriteString("[^.:]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// And matches bindings accepted by every filter.
func And(filters ...BindingFilter) BindingFilter {
	return func(b *Binding) bool {
		for _, f := range filters {
			if !f(b) {
				return false
			}
		}
		return true
	}
}

// Or matches bindings accepted by at least one filter.
func Or(filters ...BindingFilter) BindingFilter {
	return func(b *Binding) bool {
		for _, f := range filters {
			if f(b) {
				return true
			}
		}
		return false
	}
}

// CompareByKey orders bindings alphabetically by key.
func CompareByKey(a, b *Binding) int {
	return strings.Compare(a.Key(), b.Key())
}

// CompareByTag orders bindings by the position of their tag value in
// order. Values missing from order sort last, by their string form.
//
//	CompareByTag("phase", "init", "serve", "shutdown")
func CompareByTag(tag string, order ...any) BindingComparator {
	rank := func(b *Binding) (int, string) {
		v, ok := b.TagValueOf(tag)
		if !ok {
			return len(order) + 1, ""
		}
		for i, o := range order {
			if tagEqual(v, o) {
				return i, ""
			}
		}
		return len(order), fmt.Sprint(v)
	}
	return func(a, b *Binding) int {
		ra, sa := rank(a)
		rb, sb := rank(b)
		if ra != rb {
			return ra - rb
		}
		return strings.Compare(sa, sb)
	}
}
