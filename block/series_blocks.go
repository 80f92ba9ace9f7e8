package block

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// SeriesBlocks is the per-series block state: the writable head block plus
// a sealed-block list. The head is protected by appendMu (the "per-series
// append lock" of §5); the sealed list pointer is swapped atomically on
// seal so readers never observe a torn list (§4.5, §5).
type SeriesBlocks struct {
	FP     uint64
	Labels labels.Labels

	appendMu   sync.Mutex
	head       *Head
	sealed     atomic.Pointer[[]*Sealed]
	compactMu  sync.Mutex // advisory lock serializing Compact with itself
}

// NewSeriesBlocks allocates empty per-series block state.
func NewSeriesBlocks(fp uint64, lbls labels.Labels) *SeriesBlocks {
	sb := &SeriesBlocks{FP: fp, Labels: lbls}
	empty := []*Sealed{}
	sb.sealed.Store(&empty)
	return sb
}

// SealedBlocks returns the current sealed-block snapshot.
func (sb *SeriesBlocks) SealedBlocks() []*Sealed {
	p := sb.sealed.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Append adds one sample to the head block, sealing and reallocating as
// needed per the limits. It returns the just-sealed block, if sealing
// occurred, so the caller can hand it to the flusher.
func (sb *SeriesBlocks) Append(ts int64, v float64, limits Limits, nextBlockID func() uint64) (sealedOut *Sealed, err error) {
	sb.appendMu.Lock()
	defer sb.appendMu.Unlock()

	if sb.head == nil {
		sb.head = NewHead(sb.FP, sb.Labels, ts, limits)
	} else if !sb.head.Covers(ts) || sb.head.ShouldSeal(ts) {
		sealedOut, err = sb.sealLocked(nextBlockID())
		if err != nil {
			return nil, err
		}
		sb.head = NewHead(sb.FP, sb.Labels, ts, limits)
	}
	if err := sb.head.Add(ts, v); err != nil {
		return sealedOut, err
	}
	if sb.head.ShouldSeal(ts) {
		s, err := sb.sealLocked(nextBlockID())
		if err != nil {
			return sealedOut, err
		}
		sb.head = nil
		if sealedOut == nil {
			sealedOut = s
		}
	}
	return sealedOut, nil
}

// sealLocked moves the head to the sealed list (must hold appendMu).
func (sb *SeriesBlocks) sealLocked(blockID uint64) (*Sealed, error) {
	if sb.head == nil || len(sb.head.Samples()) == 0 {
		return nil, nil
	}
	s := sb.head.Seal(blockID)
	old := sb.SealedBlocks()
	next := make([]*Sealed, len(old)+1)
	copy(next, old)
	next[len(old)] = s
	sb.sealed.Store(&next)
	return s, nil
}

// Read returns all samples in [t0,t1) across head and sealed blocks, in
// ascending timestamp order. An empty range ([t,t)) yields an empty
// result; an inverted range fails InvalidArgument.
func (sb *SeriesBlocks) Read(t0, t1 int64) ([]series.Sample, error) {
	if t1 < t0 {
		return nil, errs.New(errs.InvalidArgument, "inverted range [%d,%d)", t0, t1)
	}
	if t0 == t1 {
		return []series.Sample{}, nil
	}

	sealed := sb.SealedBlocks()
	out := make([]series.Sample, 0)
	for _, s := range sealed {
		if s.TEnd <= t0 || s.TStart >= t1 {
			continue
		}
		for _, sm := range s.Samples {
			if sm.TS >= t0 && sm.TS < t1 {
				out = append(out, sm)
			}
		}
	}

	sb.appendMu.Lock()
	if sb.head != nil {
		out = append(out, sb.head.RangeSamples(t0, t1)...)
	}
	sb.appendMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}

// AttachRecovered installs blocks loaded from disk as this series'
// sealed list, for use by storage's recovery path on startup. It does
// not go through sealLocked since these blocks are already sealed and
// immutable; it only needs to publish them atomically once.
func (sb *SeriesBlocks) AttachRecovered(blocks []*Sealed) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].TStart < blocks[j].TStart })
	cp := make([]*Sealed, len(blocks))
	copy(cp, blocks)
	sb.sealed.Store(&cp)
}

// SealHead forces the current head (if any) to seal, e.g. on Close/flush.
func (sb *SeriesBlocks) SealHead(nextBlockID func() uint64) (*Sealed, error) {
	sb.appendMu.Lock()
	defer sb.appendMu.Unlock()
	if sb.head == nil {
		return nil, nil
	}
	s, err := sb.sealLocked(nextBlockID())
	if err != nil {
		return nil, err
	}
	sb.head = nil
	return s, nil
}

// Compact merges adjacent sealed blocks whose combined size stays below
// maxBytes, preserving ordering, and atomically replaces the sealed list.
// It runs under the per-series compaction lock (§4.5); readers observe
// either the pre- or post-compact list, never a mix, because the swap is a
// single atomic store.
func (sb *SeriesBlocks) Compact(maxBytes int64, nextBlockID func() uint64) error {
	sb.compactMu.Lock()
	defer sb.compactMu.Unlock()

	in := sb.SealedBlocks()
	if len(in) < 2 {
		return nil
	}
	out := make([]*Sealed, 0, len(in))
	cur := in[0]
	for i := 1; i < len(in); i++ {
		next := in[i]
		combined := cur.EncodedSize() + len(next.Samples)*sampleSize
		if combined <= int(maxBytes) && cur.SeriesFP == next.SeriesFP {
			merged := &Sealed{
				BlockID:  nextBlockID(),
				SeriesFP: cur.SeriesFP,
				Labels:   cur.Labels,
				TStart:   cur.TStart,
				TEnd:     next.TEnd,
				Samples:  append(append([]series.Sample{}, cur.Samples...), next.Samples...),
			}
			cur = merged
		} else {
			out = append(out, cur)
			cur = next
		}
	}
	out = append(out, cur)
	sb.sealed.Store(&out)
	return nil
}

// DropBlocksBefore discards (tombstones) sealed blocks entirely before
// cutoff, implementing physical retention deletion (SPEC_FULL.md Open
// Question: retention). Returns the dropped blocks so the caller can
// unlink their files.
func (sb *SeriesBlocks) DropBlocksBefore(cutoff int64) []*Sealed {
	sb.compactMu.Lock()
	defer sb.compactMu.Unlock()

	in := sb.SealedBlocks()
	kept := make([]*Sealed, 0, len(in))
	dropped := make([]*Sealed, 0)
	for _, s := range in {
		if s.TEnd <= cutoff {
			dropped = append(dropped, s)
		} else {
			kept = append(kept, s)
		}
	}
	if len(dropped) > 0 {
		sb.sealed.Store(&kept)
	}
	return dropped
}
