// Package otelbridge converts an OTLP metrics tree into internal time
// series (spec §4.10), using the real OTLP proto message types from
// go.opentelemetry.io/proto/otlp rather than hand-rolled structs, since
// nothing in the teacher speaks OTLP and the wire contract is external.
package otelbridge

import (
	"fmt"
	"sync/atomic"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// componentLabel resolves SPEC_FULL.md's Open Question on histogram
// linearization: each linearized sample (count/sum/bucket) is tagged
// with __component__ so consumers can tell them apart without
// re-parsing bucket-bound metadata.
const componentLabel = "__component__"

// Bridge converts OTLP ResourceMetrics into internal series and counts
// the metrics it had to drop (unsupported kinds and conversion failures).
type Bridge struct {
	dropped atomic.Uint64
}

// New constructs a Bridge.
func New() *Bridge {
	return &Bridge{}
}

// Dropped reports how many metrics were skipped: unsupported kinds
// (exponential histogram, summary — spec §4.10) and metrics whose
// conversion failed, e.g. on an invalid label.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Convert walks resourceMetrics and returns every series it could
// build (spec §4.10 steps 1-2).
func (b *Bridge) Convert(resourceMetrics []*metricspb.ResourceMetrics) ([]*series.TimeSeries, error) {
	var out []*series.TimeSeries
	for _, rm := range resourceMetrics {
		baseAttrs := attrsToMap(rm.GetResource().GetAttributes())
		for _, sm := range rm.GetScopeMetrics() {
			scopeAttrs := attrsToMap(sm.GetScope().GetAttributes())
			merged := mergeMaps(baseAttrs, scopeAttrs)
			for _, m := range sm.GetMetrics() {
				series, err := b.convertMetric(m, merged)
				if err != nil {
					b.dropped.Add(1)
					continue
				}
				out = append(out, series...)
			}
		}
	}
	return out, nil
}

func (b *Bridge) convertMetric(m *metricspb.Metric, base map[string]string) ([]*series.TimeSeries, error) {
	metricBase := mergeMaps(base, map[string]string{labels.MetricName: m.GetName()})

	switch data := m.GetData().(type) {
	case *metricspb.Metric_Gauge:
		return b.convertNumberPoints(data.Gauge.GetDataPoints(), metricBase)
	case *metricspb.Metric_Sum:
		return b.convertNumberPoints(data.Sum.GetDataPoints(), metricBase)
	case *metricspb.Metric_Histogram:
		return b.convertHistogramPoints(data.Histogram.GetDataPoints(), metricBase)
	default:
		// ExponentialHistogram and Summary are unsupported (§4.10).
		b.dropped.Add(1)
		return nil, nil
	}
}

func (b *Bridge) convertNumberPoints(points []*metricspb.NumberDataPoint, base map[string]string) ([]*series.TimeSeries, error) {
	out := make([]*series.TimeSeries, 0, len(points))
	for _, p := range points {
		merged := mergeMaps(base, attrsToMap(p.GetAttributes()))
		lbls, err := labels.FromMap(merged)
		if err != nil {
			return nil, err
		}
		ts := series.New(lbls)
		tsMS := int64(p.GetTimeUnixNano() / 1e6)
		if err := ts.AddSample(tsMS, numberValue(p)); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}

func numberValue(p *metricspb.NumberDataPoint) float64 {
	switch v := p.GetValue().(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

// convertHistogramPoints linearizes each histogram data point into one
// series per component (count, sum, bucket_<i>), all sharing the point's
// labels plus componentLabel and stamped at the same timestamp. This is
// SPEC_FULL.md's resolution of the timestamp-overloading Open Question:
// a distinct series per component instead of consecutive (ts, ts+1, ...)
// samples on one series.
func (b *Bridge) convertHistogramPoints(points []*metricspb.HistogramDataPoint, base map[string]string) ([]*series.TimeSeries, error) {
	out := make([]*series.TimeSeries, 0, len(points)*2)
	for _, p := range points {
		merged := mergeMaps(base, attrsToMap(p.GetAttributes()))
		tsMS := int64(p.GetTimeUnixNano() / 1e6)

		countTS, err := componentSeries(merged, "count", tsMS, float64(p.GetCount()))
		if err != nil {
			return nil, err
		}
		sumTS, err := componentSeries(merged, "sum", tsMS, p.GetSum())
		if err != nil {
			return nil, err
		}
		out = append(out, countTS, sumTS)

		for i, c := range p.GetBucketCounts() {
			bucketTS, err := componentSeries(merged, fmt.Sprintf("bucket_%d", i), tsMS, float64(c))
			if err != nil {
				return nil, err
			}
			out = append(out, bucketTS)
		}
	}
	return out, nil
}

func componentSeries(base map[string]string, component string, tsMS int64, v float64) (*series.TimeSeries, error) {
	merged := mergeMaps(base, map[string]string{componentLabel: component})
	lbls, err := labels.FromMap(merged)
	if err != nil {
		return nil, err
	}
	ts := series.New(lbls)
	if err := ts.AddSample(tsMS, v); err != nil {
		return nil, err
	}
	return ts, nil
}

// attrsToMap coerces OTLP attributes per spec §4.10: string/bool/int/
// double coerce to strings; array/kv types and empty keys are skipped.
func attrsToMap(attrs []*commonpb.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		if kv.GetKey() == "" {
			continue
		}
		if v, ok := coerceValue(kv.GetValue()); ok {
			out[kv.GetKey()] = v
		}
	}
	return out
}

func coerceValue(v *commonpb.AnyValue) (string, bool) {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue, true
	case *commonpb.AnyValue_BoolValue:
		if val.BoolValue {
			return "true", true
		}
		return "false", true
	case *commonpb.AnyValue_IntValue:
		return fmt.Sprintf("%d", val.IntValue), true
	case *commonpb.AnyValue_DoubleValue:
		return fmt.Sprintf("%g", val.DoubleValue), true
	default:
		return "", false
	}
}

func mergeMaps(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
