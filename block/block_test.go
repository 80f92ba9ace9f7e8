package block

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

func testLabels(t *testing.T) labels.Labels {
	l, err := labels.FromMap(map[string]string{labels.MetricName: "cpu", "host": "h1"})
	require.NoError(t, err)
	return l
}

func samplesOf(tss []int64, vals []float64) []series.Sample {
	out := make([]series.Sample, len(tss))
	for i := range tss {
		out[i] = series.Sample{TS: tss[i], Val: vals[i]}
	}
	return out
}

func TestHeadSealOnTime(t *testing.T) {
	lbls := testLabels(t)
	limits := Limits{BlockDurationMS: 1000, MaxRecords: 100, MaxBytes: 1 << 20}
	h := NewHead(1, lbls, 500, limits)
	require.True(t, h.Covers(999))
	require.False(t, h.Covers(1000))
	require.NoError(t, h.Add(500, 1.0))
	require.False(t, h.ShouldSeal(600))
	require.True(t, h.ShouldSeal(1000))
}

func TestHeadSealOnRecordCount(t *testing.T) {
	lbls := testLabels(t)
	limits := Limits{BlockDurationMS: 1_000_000, MaxRecords: 2, MaxBytes: 1 << 20}
	h := NewHead(1, lbls, 0, limits)
	require.NoError(t, h.Add(0, 1))
	require.False(t, h.ShouldSeal(0))
	require.NoError(t, h.Add(1, 2))
	require.True(t, h.ShouldSeal(1))
}

func TestSealedEncodeDecodeRoundTrip(t *testing.T) {
	lbls := testLabels(t)
	s := &Sealed{
		BlockID: 7, SeriesFP: lbls.Fingerprint(), Labels: lbls, TStart: 0, TEnd: 1000,
		Samples: samplesOf([]int64{0, 100, 999}, []float64{1, 2, 3}),
	}
	for _, compress := range []bool{false, true} {
		buf, err := s.Encode(compress)
		require.NoError(t, err)
		got, err := DecodeSealed(buf)
		require.NoError(t, err)
		require.Equal(t, s.BlockID, got.BlockID)
		require.Equal(t, s.TStart, got.TStart)
		require.Equal(t, s.TEnd, got.TEnd)
		require.True(t, s.Labels.Equal(got.Labels))
		require.Equal(t, s.Samples, got.Samples)
	}
}

func TestSeriesBlocksAppendAndRead(t *testing.T) {
	lbls := testLabels(t)
	limits := Limits{BlockDurationMS: 1000, MaxRecords: 1000, MaxBytes: 1 << 20}
	sb := NewSeriesBlocks(lbls.Fingerprint(), lbls)
	var nextID uint64
	next := func() uint64 { nextID++; return nextID }

	for _, ts := range []int64{0, 100, 1000, 1500, 2000} {
		_, err := sb.Append(ts, float64(ts), limits, next)
		require.NoError(t, err)
	}
	samples, err := sb.Read(0, 2001)
	require.NoError(t, err)
	require.Len(t, samples, 5)
	require.Equal(t, int64(0), samples[0].TS)
	require.Equal(t, int64(2000), samples[len(samples)-1].TS)

	_, err = sb.Read(5, 0)
	require.Error(t, err)

	empty, err := sb.Read(10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSeriesBlocksCompact(t *testing.T) {
	lbls := testLabels(t)
	limits := Limits{BlockDurationMS: 100, MaxRecords: 1000, MaxBytes: 1 << 20}
	sb := NewSeriesBlocks(lbls.Fingerprint(), lbls)
	var nextID uint64
	next := func() uint64 { nextID++; return nextID }
	for _, ts := range []int64{0, 100, 200, 300} {
		_, err := sb.Append(ts, float64(ts), limits, next)
		require.NoError(t, err)
	}
	_, err := sb.SealHead(next)
	require.NoError(t, err)
	before := len(sb.SealedBlocks())
	require.NoError(t, sb.Compact(1<<20, next))
	after := len(sb.SealedBlocks())
	require.Less(t, after, before)

	samples, err := sb.Read(0, 400)
	require.NoError(t, err)
	require.Len(t, samples, 4)
}

func TestEngineFlushAndLoadAll(t *testing.T) {
	dir := t.TempDir()
	eng, err := NewEngine(Config{DataDir: dir, BlockDurationMS: 1000, MaxBlockRecords: 1000, MaxBlockBytes: 1 << 20}, nil)
	require.NoError(t, err)
	eng.Start()

	lbls := testLabels(t)
	s := &Sealed{
		BlockID: eng.NextBlockID(), SeriesFP: lbls.Fingerprint(), Labels: lbls, TStart: 0, TEnd: 1000,
		Samples: samplesOf([]int64{1, 2}, []float64{1, 2}),
	}
	eng.Enqueue(s)
	require.NoError(t, eng.Close())

	loaded, err := eng.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, s.BlockID, loaded[0].BlockID)

	_, err = os.Stat(dir)
	require.NoError(t, err)
}
