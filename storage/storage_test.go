package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

func mkSeries(t *testing.T, name string, extra map[string]string, samples []series.Sample) *series.TimeSeries {
	kv := map[string]string{labels.MetricName: name}
	for k, v := range extra {
		kv[k] = v
	}
	l, err := labels.FromMap(kv)
	require.NoError(t, err)
	ts := series.New(l)
	for _, s := range samples {
		require.NoError(t, ts.AddSample(s.TS, s.Val))
	}
	return ts
}

func newTestStorage(t *testing.T) *Storage {
	dir := t.TempDir()
	st, err := Init(Config{DataDir: dir, BlockDurationMS: 1000, MaxBlockRecords: 1000, MaxBlockBytes: 1 << 20, Shards: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestWriteReadRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	ts := mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}, {TS: 100, Val: 2}})
	require.NoError(t, st.Write(ts))

	got, err := st.Read(ts.Labels(), 0, 200)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestWriteRejectsNegativeTimestamp(t *testing.T) {
	st := newTestStorage(t)
	l, err := labels.FromMap(map[string]string{labels.MetricName: "cpu"})
	require.NoError(t, err)
	ts := series.New(l)
	require.NoError(t, ts.AddSample(-1, 1))
	err = st.Write(ts)
	require.Error(t, err)
}

func TestQueryNarrowsByNameThenMatchers(t *testing.T) {
	st := newTestStorage(t)
	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}})))
	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "b"}, []series.Sample{{TS: 0, Val: 2}})))
	require.NoError(t, st.Write(mkSeries(t, "mem", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 3}})))

	nameMatch, err := labels.NewMatcher(labels.Equal, labels.MetricName, "cpu")
	require.NoError(t, err)
	hostMatch, err := labels.NewMatcher(labels.Equal, "host", "a")
	require.NoError(t, err)

	results, err := st.Query([]*labels.Matcher{nameMatch, hostMatch}, 0, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a", mustGet(results[0].Labels, "host"))
}

func mustGet(l labels.Labels, k string) string {
	v, _ := l.Get(k)
	return v
}

func TestQueryEnforcesMaxSamplesPerQuery(t *testing.T) {
	dir := t.TempDir()
	st, err := Init(Config{DataDir: dir, BlockDurationMS: 1000, MaxBlockRecords: 1000, MaxBlockBytes: 1 << 20, Shards: 2, MaxSamplesPerQuery: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}, {TS: 1, Val: 2}})))

	_, err = st.Query(nil, 0, 2)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ResourceExhausted))
}

func TestQueryEnforcesQueryTimeout(t *testing.T) {
	st := newTestStorage(t)
	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}})))

	// Force an already-expired deadline rather than racing a real clock.
	st.cfg.QueryTimeoutMS = -1

	_, err := st.Query(nil, 0, 1)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.DeadlineExceeded))
}

func TestLabelNamesAndValues(t *testing.T) {
	st := newTestStorage(t)
	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}})))
	require.NoError(t, st.Write(mkSeries(t, "cpu", map[string]string{"host": "b"}, []series.Sample{{TS: 0, Val: 1}})))

	names := st.LabelNames()
	require.Contains(t, names, "host")
	require.Contains(t, names, labels.MetricName)

	vals := st.LabelValues("host")
	require.Contains(t, vals, "a")
	require.Contains(t, vals, "b")
}

func TestDeleteSeries(t *testing.T) {
	st := newTestStorage(t)
	ts := mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}})
	require.NoError(t, st.Write(ts))

	m, err := labels.NewMatcher(labels.Equal, labels.MetricName, "cpu")
	require.NoError(t, err)
	n, err := st.DeleteSeries([]*labels.Matcher{m})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	results, err := st.Query([]*labels.Matcher{m}, 0, 1)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	st, err := Init(Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
}

func TestFlushAndRecover(t *testing.T) {
	dir := t.TempDir()
	st, err := Init(Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	ts := mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}, {TS: 1, Val: 2}})
	require.NoError(t, st.Write(ts))
	require.NoError(t, st.Flush())
	require.NoError(t, st.Close())

	st2, err := Init(Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	defer st2.Close()
	got, err := st2.Read(ts.Labels(), 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestConcurrentReadsAreCoalesced(t *testing.T) {
	st := newTestStorage(t)
	ts := mkSeries(t, "cpu", map[string]string{"host": "a"}, []series.Sample{{TS: 0, Val: 1}, {TS: 100, Val: 2}})
	require.NoError(t, st.Write(ts))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := st.Read(ts.Labels(), 0, 200)
			require.NoError(t, err)
			require.Len(t, got, 2)
		}()
	}
	wg.Wait()
}

func TestInstanceIDPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := Init(Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	id := st.InstanceID()
	require.NotEmpty(t, id)
	require.NoError(t, st.Close())

	st2, err := Init(Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	defer st2.Close()
	require.Equal(t, id, st2.InstanceID())
}
