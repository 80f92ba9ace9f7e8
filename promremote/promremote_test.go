package promremote

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteRequestRoundTrip(t *testing.T) {
	in := []WireSeries{
		{
			Labels:  []WireLabel{{Name: "__name__", Value: "cpu"}, {Name: "host", Value: "a"}},
			Samples: []WireSample{{Value: 1.5, TimestampMS: 100}, {Value: 2.5, TimestampMS: 200}},
		},
	}
	buf := EncodeWriteRequest(in)
	out, err := DecodeWriteRequest(buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, in[0].Labels, out[0].Labels)
	require.Equal(t, in[0].Samples, out[0].Samples)
}

func TestReadRequestRoundTrip(t *testing.T) {
	in := []WireQuery{
		{
			StartMS: 0, EndMS: 1000,
			Matchers: []WireMatcher{{Type: MatchRE, Name: "host", Value: "a.*"}},
		},
	}
	buf := EncodeReadRequest(in)
	out, err := DecodeReadRequest(buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, in[0].StartMS, out[0].StartMS)
	require.Equal(t, in[0].EndMS, out[0].EndMS)
	require.Equal(t, in[0].Matchers, out[0].Matchers)
}

func TestReadResponseRoundTrip(t *testing.T) {
	in := [][]WireSeries{
		{
			{Labels: []WireLabel{{Name: "__name__", Value: "cpu"}}, Samples: []WireSample{{Value: 3, TimestampMS: 5}}},
		},
	}
	buf := EncodeReadResponse(in)
	out, err := DecodeReadResponse(buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSnappyRoundTrip(t *testing.T) {
	orig := []byte("hello remote write")
	compressed := CompressSnappy(orig)
	decompressed, err := DecompressSnappy(compressed)
	require.NoError(t, err)
	require.Equal(t, orig, decompressed)
}

func TestDecompressSnappyRejectsGarbage(t *testing.T) {
	_, err := DecompressSnappy([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}
