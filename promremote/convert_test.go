package promremote

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/labels"
)

func TestSeriesFromWriteAndBack(t *testing.T) {
	wire := []WireSeries{
		{
			Labels:  []WireLabel{{Name: labels.MetricName, Value: "cpu"}, {Name: "host", Value: "a"}},
			Samples: []WireSample{{Value: 1, TimestampMS: 0}, {Value: 2, TimestampMS: 1}},
		},
	}
	ts, err := SeriesFromWrite(wire)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	require.Equal(t, "cpu", ts[0].Labels().Name())

	back := SeriesToWire(ts)
	require.Len(t, back, 1)
	require.Len(t, back[0].Samples, 2)
}

func TestMatcherFromWireMapsAllTypes(t *testing.T) {
	cases := []struct {
		in   WireMatcherType
		want labels.MatcherType
	}{
		{MatchEQ, labels.Equal},
		{MatchNEQ, labels.NotEqual},
		{MatchRE, labels.RegexMatch},
		{MatchNRE, labels.RegexNoMatch},
	}
	for _, c := range cases {
		m, err := MatcherFromWire(WireMatcher{Type: c.in, Name: "host", Value: "a"})
		require.NoError(t, err)
		require.Equal(t, c.want, m.Type)
	}
}

func TestMatcherFromWireRejectsUnknownType(t *testing.T) {
	_, err := MatcherFromWire(WireMatcher{Type: WireMatcherType(99), Name: "host", Value: "a"})
	require.Error(t, err)
}
