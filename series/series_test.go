package series

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vobbilis/mytsdb-sub000/labels"
)

func testLabels(t *testing.T) labels.Labels {
	l, err := labels.FromMap(map[string]string{labels.MetricName: "cpu"})
	require.NoError(t, err)
	return l
}

func TestMonotonicity(t *testing.T) {
	ts := New(testLabels(t))
	require.NoError(t, ts.AddSample(1000, 1.0))
	require.NoError(t, ts.AddSample(2000, 2.0))
	require.Error(t, ts.AddSample(2000, 3.0))
	require.Error(t, ts.AddSample(1500, 3.0))
	require.Len(t, ts.Samples(), 2)
}

func TestMergeConcatenatesPreservingOrder(t *testing.T) {
	a := New(testLabels(t))
	require.NoError(t, a.AddSample(1000, 1.0))
	b := New(testLabels(t))
	require.NoError(t, b.AddSample(2000, 2.0))
	require.NoError(t, a.Merge(b))
	require.Equal(t, []Sample{{1000, 1.0}, {2000, 2.0}}, a.Samples())
}

func TestMergeRejectsOverlap(t *testing.T) {
	a := New(testLabels(t))
	require.NoError(t, a.AddSample(2000, 1.0))
	b := New(testLabels(t))
	require.NoError(t, b.AddSample(1000, 2.0))
	require.Error(t, a.Merge(b))
}

func TestMergeRejectsDifferingLabels(t *testing.T) {
	a := New(testLabels(t))
	other, _ := labels.FromMap(map[string]string{labels.MetricName: "mem"})
	b := New(other)
	require.Error(t, a.Merge(b))
}
