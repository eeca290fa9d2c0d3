// Copyright 2025 LLM Firewall Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"llmfirewall/platform/shared/logger"
)

const (
	// auditQueueCapacity bounds the in-memory backlog. Past it, entries drop.
	auditQueueCapacity = 1000
	// auditDrainInterval is how often the drainer wakes.
	auditDrainInterval = time.Second
	// auditDrainBatch caps entries per wake-up; inserts for one batch run
	// concurrently.
	auditDrainBatch = 10
	// auditFlushSleep spaces the synchronous Flush iterations.
	auditFlushSleep = 100 * time.Millisecond
)

// AuditInserter is the slice of the audit store the queue needs.
type AuditInserter interface {
	Insert(ctx context.Context, entry *AuditEntry) (int64, error)
}

// AuditQueue decouples request handling from audit persistence. Enqueue
// never blocks and never fails a request: on a full queue the entry drops
// with a warning. A single drainer goroutine batches entries into the store.
//
// In synchronous mode (audit.async=false) Enqueue writes through to the
// store inline and the drainer never runs; the modes are mutually exclusive.
type AuditQueue struct {
	store     AuditInserter
	async     bool
	retention time.Duration
	log       *logger.Logger

	queue chan *AuditEntry
	stop  chan struct{}
	wg    sync.WaitGroup

	dropped   uint64
	persisted uint64
}

// NewAuditQueue creates the queue. The drainer is not started here; async
// deployments call Start once from App.Run.
func NewAuditQueue(store AuditInserter, async bool, retentionDays int) *AuditQueue {
	return newAuditQueue(store, async, retentionDays, auditQueueCapacity)
}

func newAuditQueue(store AuditInserter, async bool, retentionDays, capacity int) *AuditQueue {
	return &AuditQueue{
		store:     store,
		async:     async,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       logger.New("audit-queue"),
		queue:     make(chan *AuditEntry, capacity),
		stop:      make(chan struct{}),
	}
}

// Start launches the drainer. Only meaningful in async mode; synchronous
// queues ignore it.
func (q *AuditQueue) Start() {
	if !q.async {
		return
	}
	q.wg.Add(1)
	go q.drainLoop()
}

// Enqueue hands an entry to the pipeline. The entry's timestamp and
// retention deadline are stamped here so store order never matters to
// consumers — they sort by this timestamp.
func (q *AuditQueue) Enqueue(entry *AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.RetentionUntil.IsZero() {
		entry.RetentionUntil = entry.Timestamp.Add(q.retention)
	}

	if !q.async {
		q.insert(context.Background(), entry)
		return
	}

	select {
	case q.queue <- entry:
	default:
		atomic.AddUint64(&q.dropped, 1)
		q.log.Warn(entry.RequestID, "audit queue full, dropping entry", map[string]interface{}{
			"dropped_total": atomic.LoadUint64(&q.dropped),
		})
	}
	firewallAuditQueueSize.Set(float64(len(q.queue)))
}

// Size reports the current backlog depth.
func (q *AuditQueue) Size() int {
	return len(q.queue)
}

// Dropped reports how many entries were refused on a full queue.
func (q *AuditQueue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Flush drains the backlog synchronously until it is empty or ctx expires.
// Called during shutdown; best-effort by design.
func (q *AuditQueue) Flush(ctx context.Context) {
	if !q.async {
		return
	}
	for {
		if q.drainBatch(ctx) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			q.log.Warn("", "audit flush interrupted", map[string]interface{}{
				"remaining": len(q.queue),
			})
			return
		case <-time.After(auditFlushSleep):
		}
	}
}

// Shutdown stops the drainer and flushes what remains within ctx.
func (q *AuditQueue) Shutdown(ctx context.Context) {
	if !q.async {
		return
	}
	close(q.stop)
	q.wg.Wait()
	q.Flush(ctx)
}

func (q *AuditQueue) drainLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(auditDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.drainBatch(context.Background())
		case <-q.stop:
			return
		}
	}
}

// drainBatch removes up to auditDrainBatch entries and inserts them
// concurrently. Returns how many entries it took off the queue. One bad
// entry never poisons the batch: per-entry failures are logged and
// swallowed.
func (q *AuditQueue) drainBatch(ctx context.Context) int {
	var batch []*AuditEntry
fill:
	for len(batch) < auditDrainBatch {
		select {
		case entry := <-q.queue:
			batch = append(batch, entry)
		default:
			break fill
		}
	}
	if len(batch) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, entry := range batch {
		wg.Add(1)
		go func(e *AuditEntry) {
			defer wg.Done()
			q.insert(ctx, e)
		}(entry)
	}
	wg.Wait()

	firewallAuditQueueSize.Set(float64(len(q.queue)))
	return len(batch)
}

func (q *AuditQueue) insert(ctx context.Context, entry *AuditEntry) {
	if _, err := q.store.Insert(ctx, entry); err != nil {
		q.log.Error(entry.RequestID, "audit insert failed", map[string]interface{}{
			"error": err.Error(),
			"path":  entry.Path,
		})
		return
	}
	atomic.AddUint64(&q.persisted, 1)
}
