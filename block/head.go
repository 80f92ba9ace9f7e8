package block

import (
	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// Limits bounds a head block's lifetime (spec §4.5: elapsed time past
// t_end, sample count, or serialized size estimate).
type Limits struct {
	BlockDurationMS int64
	MaxRecords      int
	MaxBytes        int64
}

// Head is the currently-writable block for one series, covering
// [tStart, tStart+BlockDuration).
type Head struct {
	seriesFP uint64
	lbls     labels.Labels
	tStart   int64
	tEnd     int64
	samples  []series.Sample
	limits   Limits
}

// floorTo rounds ts down to the nearest multiple of durationMS.
func floorTo(ts, durationMS int64) int64 {
	if durationMS <= 0 {
		return ts
	}
	m := ts % durationMS
	if m < 0 {
		m += durationMS
	}
	return ts - m
}

// NewHead allocates a head block for the bucket containing ts.
func NewHead(fp uint64, lbls labels.Labels, ts int64, limits Limits) *Head {
	start := floorTo(ts, limits.BlockDurationMS)
	return &Head{
		seriesFP: fp,
		lbls:     lbls,
		tStart:   start,
		tEnd:     start + limits.BlockDurationMS,
		limits:   limits,
	}
}

// Covers reports whether ts falls within this head's time bucket.
func (h *Head) Covers(ts int64) bool {
	return ts >= h.tStart && ts < h.tEnd
}

// Add appends a sample. The caller (SeriesBlocks, under the per-series
// append lock) must ensure ts falls within Covers and is strictly
// increasing relative to the previous appended sample.
func (h *Head) Add(ts int64, v float64) error {
	if !h.Covers(ts) {
		return errs.New(errs.InvalidArgument, "timestamp %d outside head bucket [%d,%d)", ts, h.tStart, h.tEnd)
	}
	if n := len(h.samples); n > 0 && ts <= h.samples[n-1].TS {
		return errs.New(errs.InvalidArgument, "non-monotonic timestamp %d after %d", ts, h.samples[n-1].TS)
	}
	h.samples = append(h.samples, series.Sample{TS: ts, Val: v})
	return nil
}

// estimatedSize is the serialized-size estimate used for the size limit.
func (h *Head) estimatedSize() int64 {
	return int64(headerSize + len(h.lbls.CanonicalString()) + len(h.samples)*sampleSize)
}

// ShouldSeal reports whether any of the three seal triggers has fired for
// the bucket containing "now" (the latest observed timestamp driving the
// write path).
func (h *Head) ShouldSeal(now int64) bool {
	if now >= h.tEnd {
		return true
	}
	if h.limits.MaxRecords > 0 && len(h.samples) >= h.limits.MaxRecords {
		return true
	}
	if h.limits.MaxBytes > 0 && h.estimatedSize() >= h.limits.MaxBytes {
		return true
	}
	return false
}

// Seal freezes the head into a Sealed block. blockID is assigned by the
// caller (Engine), monotonically.
func (h *Head) Seal(blockID uint64) *Sealed {
	samples := make([]series.Sample, len(h.samples))
	copy(samples, h.samples)
	return &Sealed{
		BlockID:  blockID,
		SeriesFP: h.seriesFP,
		Labels:   h.lbls,
		TStart:   h.tStart,
		TEnd:     h.tEnd,
		Samples:  samples,
	}
}

// Samples returns the head's current sample buffer (read-only snapshot
// would copy; callers under the append lock may read directly).
func (h *Head) Samples() []series.Sample {
	return h.samples
}

// TStart and TEnd expose the head's bucket bounds.
func (h *Head) TStart() int64 { return h.tStart }
func (h *Head) TEnd() int64   { return h.tEnd }

// RangeSamples returns samples in [t0,t1) from the head.
func (h *Head) RangeSamples(t0, t1 int64) []series.Sample {
	out := make([]series.Sample, 0)
	for _, s := range h.samples {
		if s.TS >= t0 && s.TS < t1 {
			out = append(out, s)
		}
	}
	return out
}
