// Package labels implements the canonical label set and matcher primitives
// (spec §4.1): an ordered key->value mapping with a stable fingerprint, and
// the four matcher variants used by queries and rules.
package labels

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// MetricName is the reserved label key holding the metric name.
const MetricName = "__name__"

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Labels is an immutable-by-convention ordered label set. Callers should
// treat a Labels value as copy-on-write: Add returns a new set.
type Labels struct {
	m map[string]string
}

// New builds an empty label set.
func New() Labels {
	return Labels{m: make(map[string]string)}
}

// FromMap builds a label set from a plain map, validating every key.
func FromMap(kv map[string]string) (Labels, error) {
	l := New()
	for k, v := range kv {
		var err error
		if l, err = l.Add(k, v); err != nil {
			return Labels{}, err
		}
	}
	return l, nil
}

// Add returns a new Labels with k=v set, validating the key and requiring a
// non-empty value.
func (l Labels) Add(k, v string) (Labels, error) {
	if k == "" {
		return Labels{}, errs.New(errs.InvalidArgument, "empty label key")
	}
	if v == "" {
		return Labels{}, errs.New(errs.InvalidArgument, "empty value for label %q", k)
	}
	if k != MetricName && !nameRe.MatchString(k) {
		return Labels{}, errs.New(errs.InvalidArgument, "invalid label key %q", k)
	}
	nm := make(map[string]string, len(l.m)+1)
	for kk, vv := range l.m {
		nm[kk] = vv
	}
	nm[k] = v
	return Labels{m: nm}, nil
}

// Get returns the value for k, and whether it was present.
func (l Labels) Get(k string) (string, bool) {
	v, ok := l.m[k]
	return v, ok
}

// Has reports whether k is present.
func (l Labels) Has(k string) bool {
	_, ok := l.m[k]
	return ok
}

// Name returns the __name__ label, or "" if unset.
func (l Labels) Name() string {
	return l.m[MetricName]
}

// Len returns the number of labels.
func (l Labels) Len() int {
	return len(l.m)
}

// Keys returns the label keys, unordered.
func (l Labels) Keys() []string {
	ks := make([]string, 0, len(l.m))
	for k := range l.m {
		ks = append(ks, k)
	}
	return ks
}

// sortedKeys returns label keys in lexicographic order.
func (l Labels) sortedKeys() []string {
	ks := l.Keys()
	sort.Strings(ks)
	return ks
}

// IterOrdered calls fn for every key/value pair in lexicographic key order.
func (l Labels) IterOrdered(fn func(k, v string)) {
	for _, k := range l.sortedKeys() {
		fn(k, l.m[k])
	}
}

// Map returns a defensive copy of the underlying map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l.m))
	for k, v := range l.m {
		m[k] = v
	}
	return m
}

// CanonicalString returns the canonical serialization: keys in
// lexicographic order, used for both hashing and equality-by-string.
func (l Labels) CanonicalString() string {
	keys := l.sortedKeys()
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(l.m[k])
	}
	return b.String()
}

// Fingerprint is the 64-bit stable hash of the canonical serialization.
// Collisions are resolved by full label comparison in the series registry.
func (l Labels) Fingerprint() uint64 {
	return xxhash.Sum64String(l.CanonicalString())
}

// Equal reports whether l and o contain exactly the same key/value pairs.
func (l Labels) Equal(o Labels) bool {
	if len(l.m) != len(o.m) {
		return false
	}
	for k, v := range l.m {
		if ov, ok := o.m[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// WithValue returns a copy of l with k rewritten to v (used by mapping
// rules and the OTEL/derived-metric __name__ rewrite). k must already
// exist or be a valid label key.
func (l Labels) WithValue(k, v string) (Labels, error) {
	return l.Add(k, v)
}

// MatcherType enumerates the four matcher variants of spec §4.1.
type MatcherType int

const (
	Equal MatcherType = iota
	NotEqual
	RegexMatch
	RegexNoMatch
)

// Matcher is a predicate over a single label.
type Matcher struct {
	Type  MatcherType
	Name  string
	Value string
	re    *regexp.Regexp
}

// NewMatcher builds a Matcher, compiling (and anchoring) any regex value.
// Invalid regex fails with InvalidArgument.
func NewMatcher(t MatcherType, name, value string) (*Matcher, error) {
	m := &Matcher{Type: t, Name: name, Value: value}
	if t == RegexMatch || t == RegexNoMatch {
		re, err := regexp.Compile("^(?:" + value + ")$")
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "invalid regex %q", value)
		}
		m.re = re
	}
	return m, nil
}

// Matches evaluates the matcher against l. An absent label is treated as
// the empty string value.
func (m *Matcher) Matches(l Labels) bool {
	v, _ := l.Get(m.Name)
	switch m.Type {
	case Equal:
		return v == m.Value
	case NotEqual:
		return v != m.Value
	case RegexMatch:
		return m.re.MatchString(v)
	case RegexNoMatch:
		return !m.re.MatchString(v)
	}
	return false
}

// MatchAll reports whether l satisfies every matcher (AND semantics, used
// by storage.Query's matcher resolution).
func MatchAll(matchers []*Matcher, l Labels) bool {
	for _, m := range matchers {
		if !m.Matches(l) {
			return false
		}
	}
	return true
}
