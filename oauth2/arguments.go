package oauth2

import "strings"

// Arguments is a list of space separated protocol values such as scopes or response types.
type Arguments []string

// ParseArguments splits a space separated parameter, dropping empty entries.
func ParseArguments(s string) Arguments {
	return Arguments(strings.Fields(s))
}

func (a Arguments) Has(value string) bool {
	for _, v := range a {
		if v == value {
			return true
		}
	}
	return false
}

// HasAll reports whether every value is present. An empty list is always satisfied.
func (a Arguments) HasAll(values ...string) bool {
	for _, v := range values {
		if !a.Has(v) {
			return false
		}
	}
	return true
}

func (a Arguments) HasOneOf(values ...string) bool {
	for _, v := range values {
		if a.Has(v) {
			return true
		}
	}
	return false
}

// ExactOne reports whether the list holds exactly the given value.
func (a Arguments) ExactOne(value string) bool {
	return len(a) == 1 && a[0] == value
}

// Matches reports whether both lists hold the same values regardless of order.
func (a Arguments) Matches(values ...string) bool {
	if len(a) != len(values) {
		return false
	}
	return a.HasAll(values...)
}

func (a Arguments) String() string {
	return strings.Join(a, " ")
}
