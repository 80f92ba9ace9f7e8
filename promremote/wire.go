// Package promremote implements the Prometheus Remote Write/Read wire
// codec of spec §4.9: protobuf field numbers are encoded/decoded
// directly with google.golang.org/protobuf/encoding/protowire rather
// than through protoc-generated types, and framing uses the raw
// (unframed) Snappy format via github.com/golang/snappy.
package promremote

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// Field numbers, matching prometheus/prometheus/prompb's WriteRequest.proto.
const (
	fieldWriteRequestTimeseries = 1

	fieldTimeSeriesLabels  = 1
	fieldTimeSeriesSamples = 2

	fieldLabelName  = 1
	fieldLabelValue = 2

	fieldSampleValue     = 1
	fieldSampleTimestamp = 2

	fieldReadRequestQueries = 1

	fieldQueryStart    = 1
	fieldQueryEnd      = 2
	fieldQueryMatchers = 3

	fieldMatcherType  = 1
	fieldMatcherName  = 2
	fieldMatcherValue = 3

	fieldReadResponseResults = 1

	fieldQueryResultTimeseries = 1
)

// WireLabel mirrors prompb.Label.
type WireLabel struct {
	Name  string
	Value string
}

// WireSample mirrors prompb.Sample.
type WireSample struct {
	Value     float64
	TimestampMS int64
}

// WireSeries mirrors prompb.TimeSeries.
type WireSeries struct {
	Labels  []WireLabel
	Samples []WireSample
}

// WireMatcherType mirrors prompb.LabelMatcher_Type.
type WireMatcherType int32

const (
	MatchEQ WireMatcherType = iota
	MatchNEQ
	MatchRE
	MatchNRE
)

// WireMatcher mirrors prompb.LabelMatcher.
type WireMatcher struct {
	Type  WireMatcherType
	Name  string
	Value string
}

// WireQuery mirrors prompb.Query.
type WireQuery struct {
	StartMS  int64
	EndMS    int64
	Matchers []WireMatcher
}

func appendLabel(b []byte, l WireLabel) []byte {
	msg := protowire.AppendTag(nil, fieldLabelName, protowire.BytesType)
	msg = protowire.AppendString(msg, l.Name)
	msg = protowire.AppendTag(msg, fieldLabelValue, protowire.BytesType)
	msg = protowire.AppendString(msg, l.Value)
	b = protowire.AppendTag(b, fieldTimeSeriesLabels, protowire.BytesType)
	b = protowire.AppendBytes(b, msg)
	return b
}

func appendSample(b []byte, s WireSample) []byte {
	msg := protowire.AppendTag(nil, fieldSampleValue, protowire.Fixed64Type)
	msg = protowire.AppendFixed64(msg, math.Float64bits(s.Value))
	msg = protowire.AppendTag(msg, fieldSampleTimestamp, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(s.TimestampMS))
	b = protowire.AppendTag(b, fieldTimeSeriesSamples, protowire.BytesType)
	b = protowire.AppendBytes(b, msg)
	return b
}

func encodeTimeSeries(ts WireSeries) []byte {
	var msg []byte
	for _, l := range ts.Labels {
		msg = appendLabel(msg, l)
	}
	for _, s := range ts.Samples {
		msg = appendSample(msg, s)
	}
	return msg
}

// EncodeWriteRequest serializes a WriteRequest body.
func EncodeWriteRequest(series []WireSeries) []byte {
	var buf []byte
	for _, ts := range series {
		buf = protowire.AppendTag(buf, fieldWriteRequestTimeseries, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeTimeSeries(ts))
	}
	return buf
}

// DecodeWriteRequest parses a WriteRequest body.
func DecodeWriteRequest(buf []byte) ([]WireSeries, error) {
	var out []WireSeries
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed write request tag")
		}
		buf = buf[n:]
		if num != fieldWriteRequestTimeseries || typ != protowire.BytesType {
			skip, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[skip:]
			continue
		}
		field, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed write request field")
		}
		buf = buf[n:]
		ts, err := decodeTimeSeries(field)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

func decodeTimeSeries(buf []byte) (WireSeries, error) {
	var ts WireSeries
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ts, errs.New(errs.InvalidArgument, "malformed time series tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldTimeSeriesLabels && typ == protowire.BytesType:
			field, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ts, errs.New(errs.InvalidArgument, "malformed label field")
			}
			buf = buf[n:]
			l, err := decodeLabel(field)
			if err != nil {
				return ts, err
			}
			ts.Labels = append(ts.Labels, l)
		case num == fieldTimeSeriesSamples && typ == protowire.BytesType:
			field, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return ts, errs.New(errs.InvalidArgument, "malformed sample field")
			}
			buf = buf[n:]
			s, err := decodeSample(field)
			if err != nil {
				return ts, err
			}
			ts.Samples = append(ts.Samples, s)
		default:
			skip, err := skipField(buf, typ)
			if err != nil {
				return ts, err
			}
			buf = buf[skip:]
		}
	}
	return ts, nil
}

func decodeLabel(buf []byte) (WireLabel, error) {
	var l WireLabel
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return l, errs.New(errs.InvalidArgument, "malformed label tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldLabelName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return l, errs.New(errs.InvalidArgument, "malformed label name")
			}
			l.Name = v
			buf = buf[n:]
		case num == fieldLabelValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return l, errs.New(errs.InvalidArgument, "malformed label value")
			}
			l.Value = v
			buf = buf[n:]
		default:
			skip, err := skipField(buf, typ)
			if err != nil {
				return l, err
			}
			buf = buf[skip:]
		}
	}
	return l, nil
}

func decodeSample(buf []byte) (WireSample, error) {
	var s WireSample
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return s, errs.New(errs.InvalidArgument, "malformed sample tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldSampleValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return s, errs.New(errs.InvalidArgument, "malformed sample value")
			}
			s.Value = math.Float64frombits(v)
			buf = buf[n:]
		case num == fieldSampleTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return s, errs.New(errs.InvalidArgument, "malformed sample timestamp")
			}
			s.TimestampMS = int64(v)
			buf = buf[n:]
		default:
			skip, err := skipField(buf, typ)
			if err != nil {
				return s, err
			}
			buf = buf[skip:]
		}
	}
	return s, nil
}

// skipField consumes and discards one field's value given its wire type.
func skipField(buf []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, buf)
	if n < 0 {
		return 0, errs.New(errs.InvalidArgument, "malformed field value")
	}
	return n, nil
}
