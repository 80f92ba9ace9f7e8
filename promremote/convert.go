package promremote

import (
	"github.com/golang/snappy"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// SeriesFromWrite converts a decoded WriteRequest body into internal
// time series (spec §4.9 "from_write_request").
func SeriesFromWrite(wireSeries []WireSeries) ([]*series.TimeSeries, error) {
	out := make([]*series.TimeSeries, 0, len(wireSeries))
	for _, ws := range wireSeries {
		kv := make(map[string]string, len(ws.Labels))
		for _, l := range ws.Labels {
			kv[l.Name] = l.Value
		}
		lbls, err := labels.FromMap(kv)
		if err != nil {
			return nil, err
		}
		ts := series.New(lbls)
		for _, s := range ws.Samples {
			if err := ts.AddSample(s.TimestampMS, s.Value); err != nil {
				return nil, err
			}
		}
		out = append(out, ts)
	}
	return out, nil
}

// SeriesToWire converts internal time series to wire series for a
// ReadResponse (spec §4.9 outbound conversion).
func SeriesToWire(in []*series.TimeSeries) []WireSeries {
	out := make([]WireSeries, 0, len(in))
	for _, ts := range in {
		ws := WireSeries{}
		ts.Labels().IterOrdered(func(k, v string) {
			ws.Labels = append(ws.Labels, WireLabel{Name: k, Value: v})
		})
		for _, s := range ts.Samples() {
			ws.Samples = append(ws.Samples, WireSample{Value: s.Val, TimestampMS: s.TS})
		}
		out = append(out, ws)
	}
	return out
}

// MatcherFromWire converts a wire LabelMatcher into an internal
// labels.Matcher, mapping EQ|NEQ|RE|NRE <-> Equal|NotEqual|RegexMatch|RegexNoMatch
// per spec §4.9.
func MatcherFromWire(m WireMatcher) (*labels.Matcher, error) {
	var t labels.MatcherType
	switch m.Type {
	case MatchEQ:
		t = labels.Equal
	case MatchNEQ:
		t = labels.NotEqual
	case MatchRE:
		t = labels.RegexMatch
	case MatchNRE:
		t = labels.RegexNoMatch
	default:
		return nil, errs.New(errs.InvalidArgument, "unknown matcher type %d", m.Type)
	}
	return labels.NewMatcher(t, m.Name, m.Value)
}

// MatchersFromWire converts a whole Query's matcher list.
func MatchersFromWire(ms []WireMatcher) ([]*labels.Matcher, error) {
	out := make([]*labels.Matcher, 0, len(ms))
	for _, m := range ms {
		lm, err := MatcherFromWire(m)
		if err != nil {
			return nil, err
		}
		out = append(out, lm)
	}
	return out, nil
}

// DecompressSnappy reverses raw (unframed) Snappy compression, per
// spec §4.9: "Snappy framing uses the raw Snappy format". Decode
// failures map to invalid-argument so HTTP handlers return 400.
func DecompressSnappy(b []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, err, "snappy decompression failed")
	}
	return out, nil
}

// CompressSnappy applies raw Snappy compression to an outbound body.
func CompressSnappy(b []byte) []byte {
	return snappy.Encode(nil, b)
}
