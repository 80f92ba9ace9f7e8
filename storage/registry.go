package storage

import (
	"sync"

	"github.com/vobbilis/mytsdb-sub000/block"
	"github.com/vobbilis/mytsdb-sub000/labels"
)

// registry maps fingerprint to series-handle state, plus an inverted
// __name__ index for query narrowing (spec §4.6 "Query resolution").
// Readers (query/write lookups) are hot; writers (series creation,
// deletion) are rare, so a single RWMutex suffices (§5 "Series
// registry: protected by a reader-writer lock").
type registry struct {
	mu      sync.RWMutex
	byFP    map[uint64]*block.SeriesBlocks
	byName  map[string]map[uint64]struct{}
	tombFPs map[uint64]struct{}
}

func newRegistry() *registry {
	return &registry{
		byFP:    make(map[uint64]*block.SeriesBlocks),
		byName:  make(map[string]map[uint64]struct{}),
		tombFPs: make(map[uint64]struct{}),
	}
}

// getOrCreate returns the handle for fp, creating and indexing one if
// this fingerprint has never been seen (or was tombstoned and is now
// being recreated by a fresh write, per spec §3 "A series is created
// on first write for a previously unseen fingerprint").
func (r *registry) getOrCreate(fp uint64, lbls labels.Labels) *block.SeriesBlocks {
	r.mu.RLock()
	sb, ok := r.byFP[fp]
	r.mu.RUnlock()
	if ok {
		return sb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok = r.byFP[fp]; ok {
		return sb
	}
	sb = block.NewSeriesBlocks(fp, lbls)
	r.byFP[fp] = sb
	delete(r.tombFPs, fp)
	name := lbls.Name()
	if name != "" {
		set, ok := r.byName[name]
		if !ok {
			set = make(map[uint64]struct{})
			r.byName[name] = set
		}
		set[fp] = struct{}{}
	}
	return sb
}

func (r *registry) get(fp uint64) (*block.SeriesBlocks, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.byFP[fp]
	return sb, ok
}

// candidatesForName returns fingerprints registered under an exact
// metric name, or nil if there is no such narrowing available.
func (r *registry) candidatesForName(name string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byName[name]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	return out
}

// all returns every live (non-tombstoned) series handle.
func (r *registry) all() []*block.SeriesBlocks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*block.SeriesBlocks, 0, len(r.byFP))
	for _, sb := range r.byFP {
		out = append(out, sb)
	}
	return out
}

// delete tombstones fp, removing it from both indexes.
func (r *registry) delete(fp uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.byFP[fp]
	if !ok {
		return
	}
	delete(r.byFP, fp)
	r.tombFPs[fp] = struct{}{}
	name := sb.Labels.Name()
	if set, ok := r.byName[name]; ok {
		delete(set, fp)
		if len(set) == 0 {
			delete(r.byName, name)
		}
	}
}

// labelNames returns the union of label keys across all live series.
func (r *registry) labelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, sb := range r.byFP {
		for _, k := range sb.Labels.Keys() {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// labelValues returns the union of values observed for name.
func (r *registry) labelValues(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, sb := range r.byFP {
		if v, ok := sb.Labels.Get(name); ok {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}
