// Package series implements the Sample and TimeSeries primitives (spec
// §4.2): an immutable (timestamp_ms, value) pair and a labeled, strictly
// monotonic sequence of samples.
package series

import (
	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
)

// Sample is a single (timestamp_ms, value) observation. NaN/+-Inf values
// are permitted; negative timestamps are rejected by the write path
// (storage), not here.
type Sample struct {
	TS  int64
	Val float64
}

// TimeSeries is a label set plus an ordered, strictly-monotonic sample
// sequence.
type TimeSeries struct {
	lbls    labels.Labels
	samples []Sample
}

// New builds an empty series for the given labels.
func New(l labels.Labels) *TimeSeries {
	return &TimeSeries{lbls: l}
}

// Labels returns the series' label set.
func (t *TimeSeries) Labels() labels.Labels {
	return t.lbls
}

// Samples returns the series' sample sequence in append order (which is
// timestamp order, by construction).
func (t *TimeSeries) Samples() []Sample {
	return t.samples
}

// AddSample appends a sample, enforcing strict timestamp monotonicity
// against the last appended sample.
func (t *TimeSeries) AddSample(ts int64, v float64) error {
	if n := len(t.samples); n > 0 && ts <= t.samples[n-1].TS {
		return errs.New(errs.InvalidArgument, "non-monotonic timestamp %d after %d", ts, t.samples[n-1].TS)
	}
	t.samples = append(t.samples, Sample{TS: ts, Val: v})
	return nil
}

// Merge concatenates other's samples onto t, preserving order. Overlapping
// timestamp ranges (any sample in other at or before t's last timestamp)
// fail with InvalidArgument. The two series must share identical labels.
func (t *TimeSeries) Merge(other *TimeSeries) error {
	if !t.lbls.Equal(other.lbls) {
		return errs.New(errs.InvalidArgument, "cannot merge series with differing labels")
	}
	for _, s := range other.samples {
		if err := t.AddSample(s.TS, s.Val); err != nil {
			return err
		}
	}
	return nil
}
