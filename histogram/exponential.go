// Package histogram implements the two histogram structures of spec §4.3:
// an exponential relative-error sketch and a fixed-bucket histogram. Both
// are safe for concurrent add/merge/query via a private mutex guarding
// their bucket map, count, sum, min, and max (spec §5).
package histogram

import (
	"math"
	"sort"
	"sync"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// Exponential is a sparse, mergeable relative-error quantile sketch.
// Bucket index for a positive value v is ceil(log(v)/log(gamma)), where
// gamma = (1+2*alpha/(1-alpha)); any quantile estimate it returns is within
// a relative error of alpha.
type Exponential struct {
	mu      sync.Mutex
	alpha   float64
	gamma   float64
	logGam  float64
	buckets map[int]uint64
	count   uint64
	sum     float64
	min     float64
	max     float64
}

// NewExponential builds a sketch with the given relative-error bound.
// alpha must lie in (0,1).
func NewExponential(alpha float64) (*Exponential, error) {
	if alpha <= 0 || alpha >= 1 || math.IsNaN(alpha) {
		return nil, errs.New(errs.InvalidArgument, "alpha must be in (0,1), got %v", alpha)
	}
	gamma := 1 + 2*alpha/(1-alpha)
	return &Exponential{
		alpha:   alpha,
		gamma:   gamma,
		logGam:  math.Log(gamma),
		buckets: make(map[int]uint64),
		min:     math.Inf(1),
		max:     math.Inf(-1),
	}, nil
}

// Alpha returns the sketch's configured relative-error bound.
func (e *Exponential) Alpha() float64 {
	return e.alpha
}

func (e *Exponential) bucketIndex(v float64) int {
	return int(math.Ceil(math.Log(v) / e.logGam))
}

// Add records count observations of v. v must be > 0 and not NaN.
func (e *Exponential) Add(v float64, count uint64) error {
	if math.IsNaN(v) || v <= 0 {
		return errs.New(errs.InvalidArgument, "value must be > 0 and not NaN, got %v", v)
	}
	if count == 0 {
		return nil
	}
	idx := e.bucketIndex(v)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buckets[idx] += count
	e.count += count
	e.sum += v * float64(count)
	if v < e.min {
		e.min = v
	}
	if v > e.max {
		e.max = v
	}
	return nil
}

// Merge folds other into e. Both sketches must share the same alpha.
func (e *Exponential) Merge(other *Exponential) error {
	if other == nil {
		return nil
	}
	if e.alpha != other.alpha {
		return errs.New(errs.InvalidArgument, "cannot merge sketches with differing alpha (%v != %v)", e.alpha, other.alpha)
	}
	other.mu.Lock()
	snapshot := make(map[int]uint64, len(other.buckets))
	for k, v := range other.buckets {
		snapshot[k] = v
	}
	oCount, oSum, oMin, oMax := other.count, other.sum, other.min, other.max
	other.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range snapshot {
		e.buckets[k] += v
	}
	e.count += oCount
	e.sum += oSum
	if oMin < e.min {
		e.min = oMin
	}
	if oMax > e.max {
		e.max = oMax
	}
	return nil
}

// Quantile estimates the q-th quantile (q in [0,1]) by summing bucket
// counts in ascending index order until the cumulative count reaches
// q*total, then returning that bucket's representative value
// 2*gamma^i/(gamma+1). Bucket i holds values in (gamma^(i-1), gamma^i],
// so the representative is within relative error alpha of any of them.
// q=0 and q=1 return the stored min and max, and every estimate is
// clamped to [min, max].
func (e *Exponential) Quantile(q float64) (float64, error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, errs.New(errs.InvalidArgument, "q must be in [0,1], got %v", q)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return 0, errs.New(errs.NotFound, "sketch is empty")
	}
	if q == 0 {
		return e.min, nil
	}
	if q == 1 {
		return e.max, nil
	}
	target := q * float64(e.count)

	indices := make([]int, 0, len(e.buckets))
	for idx := range e.buckets {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var cum float64
	for _, idx := range indices {
		bc := float64(e.buckets[idx])
		if cum+bc >= target {
			est := 2 * math.Pow(e.gamma, float64(idx)) / (e.gamma + 1)
			if est < e.min {
				est = e.min
			}
			if est > e.max {
				est = e.max
			}
			return est, nil
		}
		cum += bc
	}
	return e.max, nil
}

// Count returns the total number of observations.
func (e *Exponential) Count() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Sum returns the running sum of all observed values.
func (e *Exponential) Sum() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sum
}

// Min returns the smallest observed value.
func (e *Exponential) Min() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.min
}

// Max returns the largest observed value.
func (e *Exponential) Max() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.max
}

// SizeBytes estimates the sketch's memory footprint: fixed overhead plus
// one (int, uint64) pair per populated bucket.
func (e *Exponential) SizeBytes() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	const bucketEntryBytes = 16 // int key + uint64 value, approx map overhead excluded
	const fixedBytes = 64
	return fixedBytes + uint64(len(e.buckets))*bucketEntryBytes
}
