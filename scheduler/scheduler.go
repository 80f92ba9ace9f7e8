// Package scheduler implements the derived-metric background loop of
// spec §4.8, grounded on the teacher's stateReportRoutine ticker-loop
// pattern (ingest/muxer.go): a goroutine wakes on a fixed interval,
// scans a rule list for due work, and dispatches it without holding
// any lock across the (potentially slow) external call.
package scheduler

import (
	"sync"
	"time"

	"github.com/vobbilis/mytsdb-sub000/filterstore"
	"github.com/vobbilis/mytsdb-sub000/labels"
	"github.com/vobbilis/mytsdb-sub000/log"
	"github.com/vobbilis/mytsdb-sub000/series"
)

// scanInterval is how often the scheduler checks for due rules (§4.8:
// "every 1 s").
const scanInterval = time.Second

// QueryEngine is the external query execution hook (§4.8, §6). A
// derived-metric rule's query_string is opaque to the scheduler; it is
// handed verbatim to the engine, which returns the matching series.
type QueryEngine interface {
	Query(queryString string, now time.Time) ([]*series.TimeSeries, error)
}

// Rule is one derived-metric definition: execute QueryString every
// IntervalMS, writing results back under Name.
type Rule struct {
	Name        string
	QueryString string
	IntervalMS  int64

	lastExecutedAtMS int64
}

// Scheduler periodically executes derived-metric rules and writes
// their results through the filtering decorator (C7).
type Scheduler struct {
	mu    sync.Mutex
	rules []*Rule

	engine QueryEngine
	sink   *filterstore.FilterStore
	lg     *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. engine may be nil until SetEngine is
// called, e.g. if the query engine is wired up after storage.
func New(sink *filterstore.FilterStore, engine QueryEngine, lg *log.Logger) *Scheduler {
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	return &Scheduler{sink: sink, engine: engine, lg: lg, stopCh: make(chan struct{})}
}

// SetEngine installs (or replaces) the query engine used to execute rules.
func (s *Scheduler) SetEngine(engine QueryEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// AddRule registers a derived-metric rule.
func (s *Scheduler) AddRule(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc := r
	s.rules = append(s.rules, &rc)
}

// Rules returns a snapshot of the currently registered rules.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = *r
	}
	return out
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the background loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick scans rules under the lock only long enough to collect the due
// ones, then executes each outside the lock — mirroring
// stateReportRoutine's "DO NOT HOLD THE LOCK ... while this is
// happening" discipline.
func (s *Scheduler) tick() {
	now := time.Now()
	nowMS := now.UnixMilli()

	s.mu.Lock()
	var due []*Rule
	for _, r := range s.rules {
		if r.lastExecutedAtMS+r.IntervalMS <= nowMS {
			due = append(due, r)
		}
	}
	engine := s.engine
	s.mu.Unlock()

	if engine == nil {
		return
	}
	for _, r := range due {
		s.execute(engine, r, now)
	}
}

func (s *Scheduler) execute(engine QueryEngine, r *Rule, now time.Time) {
	defer func() {
		s.mu.Lock()
		r.lastExecutedAtMS = now.UnixMilli()
		s.mu.Unlock()
	}()

	results, err := engine.Query(r.QueryString, now)
	if err != nil {
		s.lg.Warn("derived-metric query failed", log.KV("rule", r.Name), log.KVErr(err))
		return
	}
	for _, ts := range results {
		renamed, err := renameMetric(ts, r.Name)
		if err != nil {
			s.lg.Warn("derived-metric relabel failed", log.KV("rule", r.Name), log.KVErr(err))
			continue
		}
		if err := s.sink.Write(renamed); err != nil {
			s.lg.Warn("derived-metric write failed", log.KV("rule", r.Name), log.KVErr(err))
		}
	}
}

// renameMetric overwrites labels[__name__] = name on ts, per §4.8.
func renameMetric(ts *series.TimeSeries, name string) (*series.TimeSeries, error) {
	newLabels, err := ts.Labels().WithValue(labels.MetricName, name)
	if err != nil {
		return nil, err
	}
	out := series.New(newLabels)
	for _, sm := range ts.Samples() {
		if err := out.AddSample(sm.TS, sm.Val); err != nil {
			return nil, err
		}
	}
	return out, nil
}
