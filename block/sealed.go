// Package block implements the time-bucketed block engine of spec §4.5: a
// per-series head block that accepts appends until a size/count/time limit
// is crossed, a sealed immutable block, binary encode/decode grounded on
// the teacher's entry.EntryBlock header layout, and flush/compact to disk.
package block

import (
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/s2"

	"github.com/vobbilis/mytsdb-sub000/errs"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// headerSize is the fixed-size portion of an encoded Sealed block:
// blockID(8) + fingerprint(8) + tStart(8) + tEnd(8) + labelsLen(4) + sampleCount(4).
const headerSize = 8 + 8 + 8 + 8 + 4 + 4

// sampleSize is the encoded size of one sample: ts(8) + value(8).
const sampleSize = 8 + 8

// Sealed is an immutable, time-bucketed container of one series' samples,
// covering the half-open interval [TStart, TEnd).
type Sealed struct {
	BlockID  uint64
	SeriesFP uint64
	Labels   labels.Labels
	TStart   int64
	TEnd     int64
	Samples  []series.Sample
}

// rawSize returns the uncompressed encoded size in bytes.
func (s *Sealed) rawSize() int {
	return headerSize + len(s.Labels.CanonicalString()) + len(s.Samples)*sampleSize
}

// EncodedSize estimates the on-disk footprint used for block-size limit
// checks (§4.5 "serialized size estimate").
func (s *Sealed) EncodedSize() int {
	return s.rawSize()
}

// Encode serializes the block. If compress is true the sample/label
// payload (everything after the fixed header) is s2-compressed.
func (s *Sealed) Encode(compress bool) ([]byte, error) {
	if s == nil || len(s.Samples) == 0 {
		return nil, errs.New(errs.InvalidArgument, "cannot encode an empty block")
	}
	lbl := []byte(s.Labels.CanonicalString())
	payload := make([]byte, len(lbl)+len(s.Samples)*sampleSize)
	copy(payload, lbl)
	off := len(lbl)
	for _, sm := range s.Samples {
		binary.LittleEndian.PutUint64(payload[off:], uint64(sm.TS))
		binary.LittleEndian.PutUint64(payload[off+8:], math.Float64bits(sm.Val))
		off += sampleSize
	}

	flags := byte(0)
	if compress {
		payload = s2.Encode(nil, payload)
		flags = 1
	}

	buf := make([]byte, headerSize+1+len(payload))
	binary.LittleEndian.PutUint64(buf[0:], s.BlockID)
	binary.LittleEndian.PutUint64(buf[8:], s.SeriesFP)
	binary.LittleEndian.PutUint64(buf[16:], uint64(s.TStart))
	binary.LittleEndian.PutUint64(buf[24:], uint64(s.TEnd))
	binary.LittleEndian.PutUint32(buf[32:], uint32(len(lbl)))
	binary.LittleEndian.PutUint32(buf[36:], uint32(len(s.Samples)))
	buf[headerSize] = flags
	copy(buf[headerSize+1:], payload)
	return buf, nil
}

// DecodeSealed parses a buffer produced by Encode. Truncated or
// inconsistent input fails with Internal (the caller treats this as
// block-local corruption per §4.5's failure semantics).
func DecodeSealed(buf []byte) (*Sealed, error) {
	if len(buf) < headerSize+1 {
		return nil, errs.New(errs.Internal, "block buffer too small")
	}
	s := &Sealed{
		BlockID:  binary.LittleEndian.Uint64(buf[0:]),
		SeriesFP: binary.LittleEndian.Uint64(buf[8:]),
		TStart:   int64(binary.LittleEndian.Uint64(buf[16:])),
		TEnd:     int64(binary.LittleEndian.Uint64(buf[24:])),
	}
	labelsLen := binary.LittleEndian.Uint32(buf[32:])
	sampleCount := binary.LittleEndian.Uint32(buf[36:])
	flags := buf[headerSize]
	payload := buf[headerSize+1:]

	if flags&1 != 0 {
		decoded, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, err, "decompressing block %d", s.BlockID)
		}
		payload = decoded
	}
	want := int(labelsLen) + int(sampleCount)*sampleSize
	if len(payload) < want {
		return nil, errs.New(errs.Internal, "block %d payload truncated", s.BlockID)
	}
	lblStr := string(payload[:labelsLen])
	lbls, err := parseCanonical(lblStr)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "block %d labels corrupt", s.BlockID)
	}
	s.Labels = lbls

	samples := make([]series.Sample, 0, sampleCount)
	off := int(labelsLen)
	for i := uint32(0); i < sampleCount; i++ {
		ts := int64(binary.LittleEndian.Uint64(payload[off:]))
		v := math.Float64frombits(binary.LittleEndian.Uint64(payload[off+8:]))
		samples = append(samples, series.Sample{TS: ts, Val: v})
		off += sampleSize
	}
	s.Samples = samples
	return s, nil
}

// parseCanonical reverses labels.Labels.CanonicalString() ("k=v,k2=v2").
func parseCanonical(s string) (labels.Labels, error) {
	l := labels.New()
	if s == "" {
		return l, nil
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			pair := s[start:i]
			eq := -1
			for j := 0; j < len(pair); j++ {
				if pair[j] == '=' {
					eq = j
					break
				}
			}
			if eq < 0 {
				return labels.Labels{}, errs.New(errs.Internal, "malformed label pair %q", pair)
			}
			nl, err := l.Add(pair[:eq], pair[eq+1:])
			if err != nil {
				return labels.Labels{}, err
			}
			l = nl
			start = i + 1
		}
	}
	return l, nil
}
