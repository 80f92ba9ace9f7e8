package labels

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

func TestAddValidation(t *testing.T) {
	l := New()
	l, err := l.Add(MetricName, "cpu")
	require.NoError(t, err)

	_, err = l.Add("", "x")
	require.Error(t, err)
	require.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	_, err = l.Add("host", "")
	require.Error(t, err)

	_, err = l.Add("1bad", "v")
	require.Error(t, err)
}

func TestFingerprintOrderIndependence(t *testing.T) {
	a, _ := FromMap(map[string]string{"a": "1", "b": "2"})
	b, _ := FromMap(map[string]string{"b": "2", "a": "1"})
	require.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.True(t, a.Equal(b))
}

func TestMatcherVariants(t *testing.T) {
	l, _ := FromMap(map[string]string{MetricName: "cpu", "host": "h1"})

	eq, err := NewMatcher(Equal, "host", "h1")
	require.NoError(t, err)
	require.True(t, eq.Matches(l))

	neq, _ := NewMatcher(NotEqual, "host", "h2")
	require.True(t, neq.Matches(l))

	re, err := NewMatcher(RegexMatch, "host", "h[0-9]")
	require.NoError(t, err)
	require.True(t, re.Matches(l))

	nre, _ := NewMatcher(RegexNoMatch, "host", "x.*")
	require.True(t, nre.Matches(l))

	_, err = NewMatcher(RegexMatch, "host", "(")
	require.Error(t, err)
}

func TestMatcherAbsentLabelIsEmptyString(t *testing.T) {
	l, _ := FromMap(map[string]string{MetricName: "cpu"})
	m, _ := NewMatcher(Equal, "host", "")
	require.True(t, m.Matches(l))
}

func TestMatchAll(t *testing.T) {
	l, _ := FromMap(map[string]string{MetricName: "cpu", "host": "h1"})
	m1, _ := NewMatcher(Equal, MetricName, "cpu")
	m2, _ := NewMatcher(Equal, "host", "h1")
	require.True(t, MatchAll([]*Matcher{m1, m2}, l))
	m3, _ := NewMatcher(Equal, "host", "h2")
	require.False(t, MatchAll([]*Matcher{m1, m3}, l))
}
