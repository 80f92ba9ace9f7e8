package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/rules"
	"github.com/vobbilis/mytsdb-sub000/series"
	"github.com/vobbilis/mytsdb-sub000/storage"
)

type stubEngine struct {
	calls atomic.Int64
	out   []*series.TimeSeries
	err   error
}

func (s *stubEngine) Query(q string, now time.Time) ([]*series.TimeSeries, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func mkTS(t *testing.T) *series.TimeSeries {
	l, err := labels.FromMap(map[string]string{labels.MetricName: "raw", "host": "a"})
	require.NoError(t, err)
	ts := series.New(l)
	require.NoError(t, ts.AddSample(0, 42))
	return ts
}

func newSink(t *testing.T) *filterstore.FilterStore {
	dir := t.TempDir()
	st, err := storage.Init(storage.Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return filterstore.New(st, rules.NewManager())
}

func TestTickExecutesDueRulesAndRenames(t *testing.T) {
	sink := newSink(t)
	eng := &stubEngine{out: []*series.TimeSeries{mkTS(t)}}
	sch := New(sink, eng, nil)
	sch.AddRule(Rule{Name: "derived_cpu", QueryString: "raw", IntervalMS: 0})

	sch.tick()
	require.Equal(t, int64(1), eng.calls.Load())

	m, err := labels.NewMatcher(labels.Equal, labels.MetricName, "derived_cpu")
	require.NoError(t, err)
	results, err := sink.Query([]*labels.Matcher{m}, 0, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestTickSkipsNotYetDueRules(t *testing.T) {
	sink := newSink(t)
	eng := &stubEngine{out: []*series.TimeSeries{mkTS(t)}}
	sch := New(sink, eng, nil)
	sch.AddRule(Rule{Name: "derived_cpu", QueryString: "raw", IntervalMS: 1_000_000})

	sch.tick()
	sch.tick()
	require.Equal(t, int64(1), eng.calls.Load())
}

func TestTickAdvancesTimestampOnQueryError(t *testing.T) {
	sink := newSink(t)
	eng := &stubEngine{err: require.AnError}
	sch := New(sink, eng, nil)
	sch.AddRule(Rule{Name: "derived_cpu", QueryString: "raw", IntervalMS: 1_000_000})

	sch.tick()
	require.Equal(t, int64(1), eng.calls.Load())
	sch.tick()
	require.Equal(t, int64(1), eng.calls.Load())
}

func TestStartStop(t *testing.T) {
	sink := newSink(t)
	eng := &stubEngine{out: nil}
	sch := New(sink, eng, nil)
	sch.Start()
	sch.Stop()
}
