// Package rules implements the compiled drop/mapping rule set and the
// copy-on-write rule manager of spec §4.4. The RuleSet is immutable after
// construction; Manager publishes new rule sets atomically so that
// writers on the hot path never block on a rule-set update (§5, §9).
package rules

import (
	"regexp"
	"strings"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// trieNode is a node of the prefix-match drop trie, keyed by metric name.
type trieNode struct {
	children map[byte]*trieNode
	terminal bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

func (n *trieNode) insert(s string) {
	cur := n
	for i := 0; i < len(s); i++ {
		c := s[i]
		child, ok := cur.children[c]
		if !ok {
			child = newTrieNode()
			cur.children[c] = child
		}
		cur = child
	}
	cur.terminal = true
}

// matches walks the trie while matching characters of s, returning true if
// a terminal node is reached at or before the end of s (i.e. some prefix
// of s is a registered drop prefix).
func (n *trieNode) matches(s string) bool {
	cur := n
	for i := 0; i < len(s); i++ {
		if cur.terminal {
			return true
		}
		child, ok := cur.children[s[i]]
		if !ok {
			return false
		}
		cur = child
	}
	return cur.terminal
}

// LabelRules is the per-label-name drop specification: an exact value set
// plus a regex list.
type LabelRules struct {
	exact  map[string]struct{}
	regex  []*regexp.Regexp
}

func (lr *LabelRules) matches(v string) bool {
	if lr == nil {
		return false
	}
	if _, ok := lr.exact[v]; ok {
		return true
	}
	for _, re := range lr.regex {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// MappingRule rewrites labels[name] from old to new when present.
type MappingRule struct {
	LabelName string
	OldValue  string
	NewValue  string
}

// RuleSet is the immutable, published rule set. Zero value is a RuleSet
// that drops nothing and maps nothing.
type RuleSet struct {
	exactNames map[string]struct{}
	prefixRoot *trieNode
	regexNames []*regexp.Regexp
	labelDrop  map[string]*LabelRules
	mappings   []MappingRule
}

// Empty returns a RuleSet with no drop or mapping rules, the manager's
// initial state.
func Empty() *RuleSet {
	return &RuleSet{
		exactNames: make(map[string]struct{}),
		prefixRoot: newTrieNode(),
		labelDrop:  make(map[string]*LabelRules),
	}
}

// ShouldDrop evaluates the drop predicate in the §4.4 order: exact name,
// prefix name, regex name, then per-label-name rules over every label on
// the series.
func (rs *RuleSet) ShouldDrop(l labels.Labels) bool {
	if rs == nil {
		return false
	}
	name := l.Name()
	if _, ok := rs.exactNames[name]; ok {
		return true
	}
	if rs.prefixRoot != nil && rs.prefixRoot.matches(name) {
		return true
	}
	for _, re := range rs.regexNames {
		if re.MatchString(name) {
			return true
		}
	}
	drop := false
	l.IterOrdered(func(k, v string) {
		if drop {
			return
		}
		if lr, ok := rs.labelDrop[k]; ok && lr.matches(v) {
			drop = true
		}
	})
	return drop
}

// ApplyMapping applies every mapping rule to ts's labels, in order,
// returning a new series sharing the same samples. Mapping is applied
// after the drop check by the caller (filterstore).
func (rs *RuleSet) ApplyMapping(ts *series.TimeSeries) (*series.TimeSeries, error) {
	if rs == nil || len(rs.mappings) == 0 {
		return ts, nil
	}
	l := ts.Labels()
	changed := false
	for _, mr := range rs.mappings {
		if v, ok := l.Get(mr.LabelName); ok && v == mr.OldValue {
			nl, err := l.Add(mr.LabelName, mr.NewValue)
			if err != nil {
				return nil, errs.Wrap(errs.Internal, err, "applying mapping rule %s", mr.LabelName)
			}
			l = nl
			changed = true
		}
	}
	if !changed {
		return ts, nil
	}
	out := series.New(l)
	for _, s := range ts.Samples() {
		if err := out.AddSample(s.TS, s.Val); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "re-adding samples after mapping")
		}
	}
	return out, nil
}

// Builder constructs a new RuleSet. A Builder is not safe for concurrent
// use; build a complete set then Build() and publish it via Manager.
type Builder struct {
	rs *RuleSet
}

// NewBuilder returns a Builder seeded from an empty rule set.
func NewBuilder() *Builder {
	return &Builder{rs: Empty()}
}

// DropExactName registers an exact __name__ drop rule.
func (b *Builder) DropExactName(name string) *Builder {
	b.rs.exactNames[name] = struct{}{}
	return b
}

// DropPrefixName registers a prefix __name__ drop rule.
func (b *Builder) DropPrefixName(prefix string) *Builder {
	b.rs.prefixRoot.insert(prefix)
	return b
}

// DropRegexName registers a regex __name__ drop rule.
func (b *Builder) DropRegexName(pattern string) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "invalid regex %q", pattern)
	}
	b.rs.regexNames = append(b.rs.regexNames, re)
	return nil
}

func (b *Builder) labelRules(name string) *LabelRules {
	lr, ok := b.rs.labelDrop[name]
	if !ok {
		lr = &LabelRules{exact: make(map[string]struct{})}
		b.rs.labelDrop[name] = lr
	}
	return lr
}

// DropLabelExact registers a per-label exact-value drop rule.
func (b *Builder) DropLabelExact(name, value string) *Builder {
	lr := b.labelRules(name)
	lr.exact[value] = struct{}{}
	return b
}

// DropLabelRegex registers a per-label regex-value drop rule.
func (b *Builder) DropLabelRegex(name, pattern string) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "invalid regex %q", pattern)
	}
	lr := b.labelRules(name)
	lr.regex = append(lr.regex, re)
	return nil
}

// Map registers a mapping rule rewriting (labelName, oldValue) to newValue.
func (b *Builder) Map(labelName, oldValue, newValue string) *Builder {
	b.rs.mappings = append(b.rs.mappings, MappingRule{LabelName: labelName, OldValue: oldValue, NewValue: newValue})
	return b
}

// Build finalizes and returns the constructed RuleSet.
func (b *Builder) Build() *RuleSet {
	return b.rs
}

// selector matcher kinds accepted by AddDropSelector.
const (
	selEqual      = "="
	selRegexMatch = "=~"
)

// AddDropSelector parses a Prometheus-style selector of the form
// `metric_name`, `{label="v"}`, or `{label=~"re"}` and registers the
// corresponding drop rule on the builder. Only a single matcher per
// selector is supported (the spec's examples never combine matchers in a
// drop selector). A parse failure reports InvalidArgument and leaves the
// builder unchanged.
func (b *Builder) AddDropSelector(selector string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return errs.New(errs.InvalidArgument, "empty selector")
	}
	if !strings.HasPrefix(selector, "{") {
		// bare metric name
		b.DropExactName(selector)
		return nil
	}
	if !strings.HasSuffix(selector, "}") {
		return errs.New(errs.InvalidArgument, "malformed selector %q", selector)
	}
	inner := strings.TrimSpace(selector[1 : len(selector)-1])
	name, op, value, err := parseSingleMatcher(inner)
	if err != nil {
		return err
	}
	switch op {
	case selEqual:
		if name == labels.MetricName {
			b.DropExactName(value)
		} else {
			b.DropLabelExact(name, value)
		}
	case selRegexMatch:
		if name == labels.MetricName {
			return b.DropRegexName(value)
		}
		return b.DropLabelRegex(name, value)
	}
	return nil
}

// parseSingleMatcher parses `label="value"` or `label=~"value"`.
func parseSingleMatcher(s string) (name, op, value string, err error) {
	idx := strings.Index(s, "=~")
	if idx >= 0 {
		name = strings.TrimSpace(s[:idx])
		op = selRegexMatch
		value = s[idx+2:]
	} else if idx = strings.Index(s, "="); idx >= 0 {
		name = strings.TrimSpace(s[:idx])
		op = selEqual
		value = s[idx+1:]
	} else {
		return "", "", "", errs.New(errs.InvalidArgument, "malformed matcher %q", s)
	}
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	if name == "" {
		return "", "", "", errs.New(errs.InvalidArgument, "malformed matcher %q", s)
	}
	return name, op, value, nil
}
