package histogram

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExponentialRejectsBadInputs(t *testing.T) {
	_, err := NewExponential(0)
	require.Error(t, err)
	_, err = NewExponential(1)
	require.Error(t, err)

	e, err := NewExponential(0.01)
	require.NoError(t, err)
	require.Error(t, e.Add(0, 1))
	require.Error(t, e.Add(-1, 1))
	require.Error(t, e.Add(math.NaN(), 1))
}

func TestExponentialQuantileErrorBound(t *testing.T) {
	e, err := NewExponential(0.01)
	require.NoError(t, err)
	for i := 0; i <= 10; i++ {
		v := math.Pow(10, float64(i))
		require.NoError(t, e.Add(v, 1))
	}
	for i := 0; i <= 10; i++ {
		q := float64(i) / 10
		trueV := math.Pow(10, float64(i))
		got, err := e.Quantile(q)
		require.NoError(t, err)
		relErr := math.Abs(got-trueV) / trueV
		require.LessOrEqualf(t, relErr, 0.011, "quantile %v: got %v want ~%v (rel err %v)", q, got, trueV, relErr)
	}
}

func TestExponentialMergeRequiresSameAlpha(t *testing.T) {
	a, _ := NewExponential(0.01)
	b, _ := NewExponential(0.02)
	require.Error(t, a.Merge(b))

	c, _ := NewExponential(0.01)
	require.NoError(t, a.Add(5, 1))
	require.NoError(t, c.Add(10, 1))
	require.NoError(t, a.Merge(c))
	require.EqualValues(t, 2, a.Count())
}

func TestExponentialSizeBytesGrowsWithBuckets(t *testing.T) {
	e, _ := NewExponential(0.01)
	base := e.SizeBytes()
	require.NoError(t, e.Add(1, 1))
	require.NoError(t, e.Add(1000, 1))
	require.Greater(t, e.SizeBytes(), base)
}
