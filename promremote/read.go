package promremote

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

func appendMatcher(b []byte, m WireMatcher) []byte {
	msg := protowire.AppendTag(nil, fieldMatcherType, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(m.Type))
	msg = protowire.AppendTag(msg, fieldMatcherName, protowire.BytesType)
	msg = protowire.AppendString(msg, m.Name)
	msg = protowire.AppendTag(msg, fieldMatcherValue, protowire.BytesType)
	msg = protowire.AppendString(msg, m.Value)
	b = protowire.AppendTag(b, fieldQueryMatchers, protowire.BytesType)
	b = protowire.AppendBytes(b, msg)
	return b
}

func encodeQuery(q WireQuery) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldQueryStart, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(q.StartMS))
	msg = protowire.AppendTag(msg, fieldQueryEnd, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(q.EndMS))
	for _, m := range q.Matchers {
		msg = appendMatcher(msg, m)
	}
	return msg
}

// EncodeReadRequest serializes a ReadRequest body.
func EncodeReadRequest(queries []WireQuery) []byte {
	var buf []byte
	for _, q := range queries {
		buf = protowire.AppendTag(buf, fieldReadRequestQueries, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeQuery(q))
	}
	return buf
}

// DecodeReadRequest parses a ReadRequest body.
func DecodeReadRequest(buf []byte) ([]WireQuery, error) {
	var out []WireQuery
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed read request tag")
		}
		buf = buf[n:]
		if num != fieldReadRequestQueries || typ != protowire.BytesType {
			skip, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[skip:]
			continue
		}
		field, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed read request field")
		}
		buf = buf[n:]
		q, err := decodeQuery(field)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func decodeQuery(buf []byte) (WireQuery, error) {
	var q WireQuery
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return q, errs.New(errs.InvalidArgument, "malformed query tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldQueryStart && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return q, errs.New(errs.InvalidArgument, "malformed query start")
			}
			q.StartMS = int64(v)
			buf = buf[n:]
		case num == fieldQueryEnd && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return q, errs.New(errs.InvalidArgument, "malformed query end")
			}
			q.EndMS = int64(v)
			buf = buf[n:]
		case num == fieldQueryMatchers && typ == protowire.BytesType:
			field, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return q, errs.New(errs.InvalidArgument, "malformed query matcher")
			}
			buf = buf[n:]
			m, err := decodeMatcher(field)
			if err != nil {
				return q, err
			}
			q.Matchers = append(q.Matchers, m)
		default:
			skip, err := skipField(buf, typ)
			if err != nil {
				return q, err
			}
			buf = buf[skip:]
		}
	}
	return q, nil
}

func decodeMatcher(buf []byte) (WireMatcher, error) {
	var m WireMatcher
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return m, errs.New(errs.InvalidArgument, "malformed matcher tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldMatcherType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return m, errs.New(errs.InvalidArgument, "malformed matcher type")
			}
			m.Type = WireMatcherType(v)
			buf = buf[n:]
		case num == fieldMatcherName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return m, errs.New(errs.InvalidArgument, "malformed matcher name")
			}
			m.Name = v
			buf = buf[n:]
		case num == fieldMatcherValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return m, errs.New(errs.InvalidArgument, "malformed matcher value")
			}
			m.Value = v
			buf = buf[n:]
		default:
			skip, err := skipField(buf, typ)
			if err != nil {
				return m, err
			}
			buf = buf[skip:]
		}
	}
	return m, nil
}

// EncodeReadResponse serializes a ReadResponse containing one
// QueryResult per result set (spec §4.9: "one QueryResult containing
// repeated TimeSeries").
func EncodeReadResponse(results [][]WireSeries) []byte {
	var buf []byte
	for _, rs := range results {
		var qr []byte
		for _, ts := range rs {
			qr = protowire.AppendTag(qr, fieldQueryResultTimeseries, protowire.BytesType)
			qr = protowire.AppendBytes(qr, encodeTimeSeries(ts))
		}
		buf = protowire.AppendTag(buf, fieldReadResponseResults, protowire.BytesType)
		buf = protowire.AppendBytes(buf, qr)
	}
	return buf
}

// DecodeReadResponse parses a ReadResponse body.
func DecodeReadResponse(buf []byte) ([][]WireSeries, error) {
	var out [][]WireSeries
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed read response tag")
		}
		buf = buf[n:]
		if num != fieldReadResponseResults || typ != protowire.BytesType {
			skip, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[skip:]
			continue
		}
		field, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed read response field")
		}
		buf = buf[n:]
		qr, err := decodeQueryResult(field)
		if err != nil {
			return nil, err
		}
		out = append(out, qr)
	}
	return out, nil
}

func decodeQueryResult(buf []byte) ([]WireSeries, error) {
	var out []WireSeries
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed query result tag")
		}
		buf = buf[n:]
		if num != fieldQueryResultTimeseries || typ != protowire.BytesType {
			skip, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[skip:]
			continue
		}
		field, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, errs.New(errs.InvalidArgument, "malformed query result field")
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
