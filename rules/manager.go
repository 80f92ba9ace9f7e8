package rules

import (
	"sync"
	"sync/atomic"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// Manager holds a single "current rule set" pointer. Readers acquire it via
// Current(), a lock-free atomic load; writers build a fresh RuleSet and
// Publish() it under an internal update lock. A reader already holding an
// older *RuleSet keeps observing it — RuleSet is immutable, so there is
// nothing to invalidate, and Go's GC reclaims it once the last reference
// drops.
type Manager struct {
	current  atomic.Pointer[RuleSet]
	updateMu sync.Mutex
}

// NewManager returns a Manager publishing an empty rule set.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(Empty())
	return m
}

// Current returns the rule set observed as of the latest Publish at or
// before this call — a lock-free read, safe to call on every write.
func (m *Manager) Current() *RuleSet {
	return m.current.Load()
}

// Publish atomically replaces the current rule set. Concurrent Publish
// calls are serialized by updateMu; concurrent Current() reads never block.
func (m *Manager) Publish(rs *RuleSet) {
	if rs == nil {
		rs = Empty()
	}
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	m.current.Store(rs)
}

// PublishDropSelectors rebuilds the drop portion of the rule set from a
// list of Prometheus-style selectors (spec §4.4), preserving existing
// mapping rules. A parse failure leaves the manager unchanged.
func (m *Manager) PublishDropSelectors(selectors []string) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	b := NewBuilder()
	// carry forward existing mapping rules
	for _, mr := range m.current.Load().mappings {
		b.Map(mr.LabelName, mr.OldValue, mr.NewValue)
	}
	for _, sel := range selectors {
		if err := b.AddDropSelector(sel); err != nil {
			return errs.Wrap(errs.InvalidArgument, err, "parsing drop selector %q", sel)
		}
	}
	m.current.Store(b.Build())
	return nil
}
