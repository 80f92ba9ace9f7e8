// Package filterstore implements the filtering decorator of spec §4.7:
// it wraps storage.Storage's write path, applying the currently
// published rule set's drop and mapping rules before delegating,
// mirroring the teacher's processor-chain pattern (ingest/processors)
// where each stage inspects/rewrites an entry before passing it on.
package filterstore

import (
	"sync/atomic"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/rules"
	"github.com/vobbilis/mytsdb-sub000/series"
	"github.com/vobbilis/mytsdb-sub000/storage"
)

// FilterStore decorates *storage.Storage, applying rule-set drop and
// mapping logic to every write (§4.7). All other operations pass
// through unchanged.
type FilterStore struct {
	inner   *storage.Storage
	rules   *rules.Manager
	dropped atomic.Uint64
}

// New wraps inner with filtering driven by mgr's current rule set.
func New(inner *storage.Storage, mgr *rules.Manager) *FilterStore {
	if mgr == nil {
		mgr = rules.NewManager()
	}
	return &FilterStore{inner: inner, rules: mgr}
}

// Write applies should_drop and apply_mapping using a single snapshot
// of the current rule set (§4.7 step 1: "acquire current rule set"),
// so a concurrent Publish cannot make one series see two different
// rule sets mid-write.
func (f *FilterStore) Write(ts *series.TimeSeries) error {
	if ts == nil {
		return errs.New(errs.InvalidArgument, "nil series")
	}
	rs := f.rules.Current()
	if rs.ShouldDrop(ts.Labels()) {
		f.dropped.Add(uint64(len(ts.Samples())))
		if f.inner != nil {
			f.inner.IncDropped(uint64(len(ts.Samples())))
		}
		return nil
	}
	mapped, err := rs.ApplyMapping(ts)
	if err != nil {
		return err
	}
	return f.inner.Write(mapped)
}

// DroppedCount reports the number of samples dropped by rule
// evaluation, for /metrics reporting.
func (f *FilterStore) DroppedCount() uint64 {
	return f.dropped.Load()
}

func (f *FilterStore) Read(lbls labels.Labels, t0, t1 int64) ([]series.Sample, error) {
	return f.inner.Read(lbls, t0, t1)
}

func (f *FilterStore) Query(matchers []*labels.Matcher, t0, t1 int64) ([]storage.QueryResult, error) {
	return f.inner.Query(matchers, t0, t1)
}

func (f *FilterStore) LabelNames() []string { return f.inner.LabelNames() }

func (f *FilterStore) LabelValues(name string) []string { return f.inner.LabelValues(name) }

func (f *FilterStore) DeleteSeries(matchers []*labels.Matcher) (int, error) {
	return f.inner.DeleteSeries(matchers)
}

// Stats reports the underlying storage's running ingest counters, for
// the HTTP /metrics surface.
func (f *FilterStore) Stats() storage.Stats { return f.inner.Stats() }

func (f *FilterStore) Compact() error { return f.inner.Compact() }

func (f *FilterStore) Flush() error { return f.inner.Flush() }

func (f *FilterStore) Close() error { return f.inner.Close() }

// Rules exposes the rule manager so HTTP admin endpoints (or the
// scheduler) can publish updates.
func (f *FilterStore) Rules() *rules.Manager { return f.rules }
