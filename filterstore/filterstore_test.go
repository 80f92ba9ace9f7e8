package filterstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/rules"
	"github.com/vobbilis/mytsdb-sub000/series"
	"github.com/vobbilis/mytsdb-sub000/storage"
)

func newBackend(t *testing.T) *storage.Storage {
	dir := t.TempDir()
	st, err := storage.Init(storage.Config{DataDir: dir, BlockDurationMS: 1000}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mkSeries(t *testing.T, name string, extra map[string]string) *series.TimeSeries {
	kv := map[string]string{labels.MetricName: name}
	for k, v := range extra {
		kv[k] = v
	}
	l, err := labels.FromMap(kv)
	require.NoError(t, err)
	ts := series.New(l)
	require.NoError(t, ts.AddSample(0, 1))
	return ts
}

func TestWriteDropsMatchingSeries(t *testing.T) {
	backend := newBackend(t)
	mgr := rules.NewManager()
	mgr.Publish(rules.NewBuilder().DropExactName("blocked").Build())
	fs := New(backend, mgr)

	require.NoError(t, fs.Write(mkSeries(t, "blocked", nil)))
	require.Equal(t, uint64(1), fs.DroppedCount())

	m, err := labels.NewMatcher(labels.Equal, labels.MetricName, "blocked")
	require.NoError(t, err)
	results, err := fs.Query([]*labels.Matcher{m}, 0, 1)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestWriteAppliesMapping(t *testing.T) {
	backend := newBackend(t)
	mgr := rules.NewManager()
	mgr.Publish(rules.NewBuilder().Map("env", "dev", "development").Build())
	fs := New(backend, mgr)

	require.NoError(t, fs.Write(mkSeries(t, "cpu", map[string]string{"env": "dev"})))

	m, err := labels.NewMatcher(labels.Equal, "env", "development")
	require.NoError(t, err)
	results, err := fs.Query([]*labels.Matcher{m}, 0, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestWritePassesThroughWhenNoRulesMatch(t *testing.T) {
	backend := newBackend(t)
	fs := New(backend, nil)
	require.NoError(t, fs.Write(mkSeries(t, "cpu", nil)))
	require.Equal(t, uint64(0), fs.DroppedCount())
}
