package possync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	baseRequestTimeout     = 10 * time.Second
	degradedRequestTimeout = 30 * time.Second
)

// linkQuality tracks observed delivery latency so request timeouts can adapt
// to the link: a slow or flaky connection gets a longer deadline instead of
// being failed early over and over.
type linkQuality struct {
	mu       sync.Mutex
	ewma     time.Duration
	degraded bool
}

func (q *linkQuality) observe(latency time.Duration, transientFailure bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ewma == 0 {
		q.ewma = latency
	} else {
		q.ewma = (q.ewma*7 + latency) / 8
	}
	q.degraded = transientFailure || q.ewma > 2*time.Second
}

func (q *linkQuality) timeout() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded {
		return degradedRequestTimeout
	}
	return baseRequestTimeout
}

// Coordinator drains the durable queue against the server: sequentially, in
// submission order, with at most one flush running at a time.
type Coordinator struct {
	store     QueueStore
	transport Transport
	probe     ConnectivityProbe
	reporter  AuditReporter
	logger    *logrus.Logger

	flushMu sync.Mutex
	quality linkQuality
}

func NewCoordinator(store QueueStore, transport Transport, probe ConnectivityProbe, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		store:     store,
		transport: transport,
		probe:     probe,
		logger:    logger,
	}
}

// SetAuditReporter enables best-effort reporting of terminal outcomes to the
// server's sync audit log after each flush.
func (c *Coordinator) SetAuditReporter(reporter AuditReporter) {
	c.reporter = reporter
}

// Enqueue persists a new mutation with a stable identity. A zero ID gets a
// generated one; the idempotency key defaults to the ID. Re-enqueueing an
// existing id refreshes the payload without duplicating the operation.
func (c *Coordinator) Enqueue(op QueuedOperation) (QueuedOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = op.ID
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	op.Status = StatusPending
	op.Retries = 0

	created, err := c.store.Enqueue(op)
	if err != nil {
		return QueuedOperation{}, err
	}
	if created {
		if err := c.store.AppendHistory(SyncHistoryEntry{
			OperationId: op.ID,
			Event:       HistoryQueued,
			CreatedAt:   time.Now(),
		}); err != nil {
			return QueuedOperation{}, err
		}
	}
	return op, nil
}

// Flush drains pending operations, one at a time, in queue order.
//
// Offline: returns {Offline:true} untouched. Already flushing: returns
// {Skipped:true} — single-flight prevents duplicate concurrent delivery of
// the same operation. A transient failure on one operation does not stop the
// rest of the batch.
func (c *Coordinator) Flush(ctx context.Context) (FlushResult, error) {
	var result FlushResult

	if c.probe != nil && !c.probe.Online(ctx) {
		result.Offline = true
		return result, nil
	}

	if !c.flushMu.TryLock() {
		result.Skipped = true
		return result, nil
	}
	defer c.flushMu.Unlock()

	ops, err := c.store.List()
	if err != nil {
		return result, err
	}

	var report []ReportedOutcome
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		if op.Status != StatusPending {
			// conflict operations wait for an explicit retry; syncing ones
			// belong to a run that died mid-flight and are picked up by
			// recovery, not here
			continue
		}

		attemptAt := time.Now()
		if err := c.store.SetStatus(op.ID, StatusSyncing, &attemptAt); err != nil {
			return result, err
		}

		start := time.Now()
		outcome := c.transport.Send(ctx, op, c.quality.timeout())
		c.quality.observe(time.Since(start), outcome.Kind == OutcomeTransient)

		switch outcome.Kind {
		case OutcomeSynced:
			if err := c.store.AppendHistory(SyncHistoryEntry{
				OperationId: op.ID,
				Event:       HistorySynced,
				CreatedAt:   time.Now(),
			}); err != nil {
				return result, err
			}
			if err := c.store.Remove(op.ID); err != nil {
				return result, err
			}
			result.Synced++
			report = append(report, c.reportedOutcome(op, string(StatusSynced), ""))

		case OutcomeTransient:
			if err := c.store.IncrementRetries(op.ID); err != nil {
				return result, err
			}
			if err := c.store.SetStatus(op.ID, StatusPending, nil); err != nil {
				return result, err
			}
			if err := c.store.AppendHistory(SyncHistoryEntry{
				OperationId: op.ID,
				Event:       HistoryFailed,
				Reason:      outcome.Reason,
				CreatedAt:   time.Now(),
			}); err != nil {
				return result, err
			}
			result.Failed++

		case OutcomeConflict:
			if err := c.store.SetStatus(op.ID, StatusConflict, nil); err != nil {
				return result, err
			}
			if err := c.store.AppendHistory(SyncHistoryEntry{
				OperationId: op.ID,
				Event:       HistoryConflict,
				Reason:      outcome.Reason,
				CreatedAt:   time.Now(),
			}); err != nil {
				return result, err
			}
			result.Conflicts++
			report = append(report, c.reportedOutcome(op, string(StatusConflict), outcome.Reason))
		}
	}

	if c.reporter != nil && len(report) > 0 {
		if err := c.reporter.Report(ctx, report); err != nil {
			c.logger.WithFields(logrus.Fields{"events": len(report)}).Warnf("sync audit report failed: %v", err)
		}
	}
	return result, nil
}

func (c *Coordinator) reportedOutcome(op QueuedOperation, status string, reason string) ReportedOutcome {
	return ReportedOutcome{
		OperationId: op.ID,
		Status:      status,
		Method:      op.Method,
		Endpoint:    op.URL,
		Reason:      reason,
		RetryCount:  op.Retries,
		CreatedAt:   op.CreatedAt,
	}
}

// RetryOperation puts a conflict operation back into automatic rotation with
// a fresh retry budget. Returns false when the operation is not in conflict.
func (c *Coordinator) RetryOperation(id string) (bool, error) {
	op, ok, err := c.store.Get(id)
	if err != nil {
		return false, err
	}
	if !ok || op.Status != StatusConflict {
		return false, nil
	}
	if err := c.store.ResetRetries(id); err != nil {
		return false, err
	}
	if err := c.store.SetStatus(id, StatusPending, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel removes an operation that has not been handed to the network.
// Cancelling a syncing operation is disallowed: the flush may appear to fail
// while the mutation actually committed server-side.
func (c *Coordinator) Cancel(id string) (bool, error) {
	op, ok, err := c.store.Get(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if op.Status != StatusPending && op.Status != StatusConflict {
		return false, nil
	}

	if err := c.store.AppendHistory(SyncHistoryEntry{
		OperationId: id,
		Event:       HistoryCancelled,
		CreatedAt:   time.Now(),
	}); err != nil {
		return false, err
	}
	if err := c.store.Remove(id); err != nil {
		return false, err
	}
	return true, nil
}

// RecoverStuckOperations returns operations left in syncing by a crash
// mid-flush to pending so the next flush retries them. The server-side
// idempotency key makes this safe even if the original attempt committed.
func (c *Coordinator) RecoverStuckOperations() (int, error) {
	ops, err := c.store.List()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, op := range ops {
		if op.Status != StatusSyncing {
			continue
		}
		if err := c.store.SetStatus(op.ID, StatusPending, nil); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Operations lists the non-terminal queue contents in flush order.
func (c *Coordinator) Operations() ([]QueuedOperation, error) {
	return c.store.List()
}

// History lists local transition history, optionally for one operation.
func (c *Coordinator) History(operationId string) ([]SyncHistoryEntry, error) {
	return c.store.History(operationId)
}

// PruneHistory applies the local retention policy.
func (c *Coordinator) PruneHistory(olderThan time.Time) (int, error) {
	return c.store.PruneHistory(olderThan)
}
