package storage

import (
	"sync"

	"github.com/vobbilis/mytsdb-sub000/errs"
)

// shard owns a disjoint fingerprint subset (by fp % N, per spec §4.6
// "Write routing") and processes its queue FIFO, preserving
// per-fingerprint order while giving up cross-shard ordering — this
// mirrors the teacher's per-destination connRoutine consuming a
// per-connection channel (ingest/muxer.go connRoutine).
type shard struct {
	queue chan func()
	wg    sync.WaitGroup
}

func newShard(depth int) *shard {
	s := &shard{queue: make(chan func(), depth)}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *shard) loop() {
	defer s.wg.Done()
	for fn := range s.queue {
		fn()
	}
}

// submit enqueues fn, failing fast with resource-exhausted if the
// shard's queue is at capacity (§5 backpressure).
func (s *shard) submit(fn func()) error {
	select {
	case s.queue <- fn:
		return nil
	default:
		return errs.New(errs.ResourceExhausted, "write shard queue full")
	}
}

func (s *shard) close() {
	close(s.queue)
	s.wg.Wait()
}

// shardFor picks the owning shard for a fingerprint.
func shardFor(shards []*shard, fp uint64) *shard {
	return shards[fp%uint64(len(shards))]
}
