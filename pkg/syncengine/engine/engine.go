// Package engine is the sync engine orchestrator (spec §4.14): the single
// loop that drains pkg/syncengine/pendingstore in FIFO order, dispatches
// each op through the API client, and routes the outcome to the circuit
// breaker, the conflict resolver, the reconciler or the failed-ops
// archive. It binds every other pkg/syncengine leaf package together the
// way the teacher's pkg/escalation/engine.go binds db/redis/prometheus: a
// ticker-driven loop plus a pub/sub channel for out-of-band wakeups,
// collapsed through a single tick function so every wake source — a new
// enqueue, a realtime event, connectivity restored, or a timer firing —
// funnels through the same dispatch path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurafall/syncengine/pkg/syncengine/apiclient"
	"github.com/aurafall/syncengine/pkg/syncengine/backoff"
	"github.com/aurafall/syncengine/pkg/syncengine/circuitbreaker"
	"github.com/aurafall/syncengine/pkg/syncengine/coalescer"
	"github.com/aurafall/syncengine/pkg/syncengine/conflict"
	"github.com/aurafall/syncengine/pkg/syncengine/failedarchive"
	"github.com/aurafall/syncengine/pkg/syncengine/idempotency"
	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
	"github.com/aurafall/syncengine/pkg/syncengine/lease"
	"github.com/aurafall/syncengine/pkg/syncengine/metrics"
	"github.com/aurafall/syncengine/pkg/syncengine/op"
	"github.com/aurafall/syncengine/pkg/syncengine/optimistic"
	"github.com/aurafall/syncengine/pkg/syncengine/pendingstore"
	"github.com/aurafall/syncengine/pkg/syncengine/reconciler"
	"github.com/aurafall/syncengine/pkg/syncengine/router"
	"github.com/aurafall/syncengine/pkg/syncengine/taxonomy"
)

// debounce is the window within which repeated wake signals collapse into
// a single loop iteration (spec §4.14: "Wakes are debounced at 100 ms").
const debounce = 100 * time.Millisecond

// retentionInterval is how often the engine loop runs the failed-ops
// archive/purge and idempotency purge passes (spec §4.2/§4.5). Spec §5
// requires these to run synchronously on the engine loop rather than on
// a separate goroutine, so they are folded into tick instead of their
// own ticker.
const retentionInterval = time.Hour

// batchThreshold is the minimum number of same-kind queued vitals before
// the engine folds them into a single batch op ahead of dispatch (spec
// §4.10: "a batch op may be synthesized from N ops of identical type and
// entity-type").
const batchThreshold = 3

// RealtimeEvent is a single message off the optional real-time channel
// (spec §6). Only Type is inspected by the engine.
type RealtimeEvent struct {
	Type string
}

// Wakeworthy realtime event types (spec §6).
const (
	EventSyncRequired   = "sync_required"
	EventEntityUpdated  = "entity_updated"
	EventConflictResolved = "conflict_resolved"
)

// Connectivity reports transitions in network reachability. Restored
// fires (possibly repeatedly) whenever the device regains connectivity.
type Connectivity interface {
	Restored() <-chan struct{}
}

// Deps bundles everything the engine needs to construct itself. All
// fields are required except Logger, Connectivity and Realtime.
type Deps struct {
	Backend     kvstore.Store
	Client      *apiclient.Client
	Router      *router.Router
	Pending     *pendingstore.Store
	Failed      *failedarchive.Archive
	Lease       *lease.Lease
	Circuit     *circuitbreaker.Breaker
	Idempotency *idempotency.Cache
	Optimistic  *optimistic.Store
	Logger      *slog.Logger

	Connectivity Connectivity
	Realtime     <-chan RealtimeEvent

	MaxAttempts int // defaults to backoff.DefaultConfig().MaxAttempts if zero
}

// Engine is the sync engine orchestrator.
type Engine struct {
	backend     kvstore.Store
	client      *apiclient.Client
	router      *router.Router
	pending     *pendingstore.Store
	failed      *failedarchive.Archive
	lease       *lease.Lease
	circuit     *circuitbreaker.Breaker
	idempotency *idempotency.Cache
	optimistic  *optimistic.Store
	logger      *slog.Logger

	connectivity Connectivity
	realtime     <-chan RealtimeEvent
	maxAttempts  int

	mu       sync.Mutex
	running  bool
	runnerID string
	cancel   context.CancelFunc
	wake     chan struct{}
	done     chan struct{}

	lastRetention time.Time
	now           func() time.Time
}

// New constructs an Engine from deps. It does not start the loop; call
// Start for that.
func New(deps Deps) (*Engine, error) {
	if deps.Client == nil || deps.Router == nil || deps.Pending == nil || deps.Failed == nil ||
		deps.Lease == nil || deps.Circuit == nil || deps.Idempotency == nil || deps.Optimistic == nil {
		return nil, fmt.Errorf("engine: missing required dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Engine{
		backend:      deps.Backend,
		client:       deps.Client,
		router:       deps.Router,
		pending:      deps.Pending,
		failed:       deps.Failed,
		lease:        deps.Lease,
		circuit:      deps.Circuit,
		idempotency:  deps.Idempotency,
		optimistic:   deps.Optimistic,
		logger:       logger,
		connectivity: deps.Connectivity,
		realtime:     deps.Realtime,
		maxAttempts:  maxAttempts,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}, nil
}

// Start attempts to acquire the leader lease and, on success, begins the
// heartbeat, the connectivity/realtime listeners and the main loop (spec
// §4.14 step 1). On failure to acquire the lease it returns nil
// immediately: losing the race for leadership is not an error, it just
// means another runner is already draining the queue.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	runnerID := uuid.NewString()
	acquired, err := e.lease.TryAcquire(ctx, runnerID, e.now())
	if err != nil {
		return fmt.Errorf("engine: start: acquire lease: %w", err)
	}
	if !acquired {
		e.logger.Info("sync engine did not acquire leader lease, standing down", "runner_id", runnerID)
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running = true
	e.runnerID = runnerID
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("sync engine started", "runner_id", runnerID)

	go e.heartbeatLoop(loopCtx)
	if e.connectivity != nil {
		go e.connectivityLoop(loopCtx)
	}
	if e.realtime != nil {
		go e.realtimeLoop(loopCtx)
	}
	go e.run(loopCtx)

	return nil
}

// Stop cancels the loop and listeners, waits for the loop to exit, then
// releases the lease (spec §4.14 step 9). It is safe to call Stop more
// than once or before Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	done := e.done
	runnerID := e.runnerID
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done

	e.optimistic.RollbackAll("engine shutdown")
	return e.lease.Release(ctx, runnerID)
}

// Enqueue persists op through the coalescer/supersession rules (spec
// §4.10) and wakes the loop. It returns once the op (or its merged
// result) is durably stored.
func (e *Engine) Enqueue(ctx context.Context, newOp op.PendingOp) error {
	if newOp.Status == "" {
		newOp.Status = op.StatusQueued
	}

	queued, err := e.pending.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: enqueue: list queued: %w", err)
	}

	if newOp.OpType == op.Delete {
		for _, id := range coalescer.RemoveSuperseded(newOp, queued) {
			if err := e.pending.MarkProcessed(ctx, id); err != nil {
				return fmt.Errorf("engine: enqueue: remove superseded %q: %w", id, err)
			}
		}
	} else if newOp.OpType.Coalescable() {
		for _, existing := range queued {
			merged, ok := coalescer.TryCoalesce(existing, newOp)
			if !ok {
				continue
			}
			if err := e.pending.Update(ctx, merged); err != nil {
				return fmt.Errorf("engine: enqueue: coalesce into %q: %w", merged.ID, err)
			}
			e.signalWake()
			return nil
		}
	}

	if err := e.pending.Enqueue(ctx, newOp); err != nil {
		return fmt.Errorf("engine: enqueue: %w", err)
	}
	metrics.EnqueueTotal.WithLabelValues(string(newOp.OpType)).Inc()
	e.refreshQueueDepth(ctx)
	e.signalWake()
	return nil
}

// Status is a point-in-time snapshot of engine health, for the admin
// surface's /status endpoint (spec §6: "metrics()/printMetrics()").
type Status struct {
	Running     bool   `json:"running"`
	RunnerID    string `json:"runner_id,omitempty"`
	QueueDepth  int    `json:"queue_depth"`
	FailedCount int    `json:"failed_count"`
	CircuitOpen bool   `json:"circuit_open"`
}

// Status reports the engine's current health without mutating anything.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	running := e.running
	runnerID := e.runnerID
	e.mu.Unlock()

	depth, err := e.pending.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: queue depth: %w", err)
	}
	failed, err := e.failed.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: failed count: %w", err)
	}
	tripped, err := e.circuit.IsTripped(ctx, e.now())
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: circuit state: %w", err)
	}

	return Status{
		Running:     running,
		RunnerID:    runnerID,
		QueueDepth:  depth,
		FailedCount: failed,
		CircuitOpen: tripped,
	}, nil
}

// PendingOps returns every op currently queued, for the admin surface's
// read-only debug listing. Order is unspecified; callers that need FIFO
// order should sort on CreatedAt themselves.
func (e *Engine) PendingOps(ctx context.Context) ([]op.PendingOp, error) {
	ops, err := e.pending.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: pending ops: %w", err)
	}
	return ops, nil
}

// signalWake is a non-blocking send: if a wake is already pending the
// extra signal is dropped, which is exactly the debounce behavior spec
// §4.14 calls for.
func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(lease.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := e.lease.Heartbeat(ctx, e.runnerID, e.now())
			if err != nil {
				e.logger.Error("sync engine heartbeat failed", "error", err)
				continue
			}
			if !ok {
				e.logger.Warn("sync engine lost leader lease", "runner_id", e.runnerID)
			}
		}
	}
}

func (e *Engine) connectivityLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.connectivity.Restored():
			e.signalWake()
		}
	}
}

func (e *Engine) realtimeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.realtime:
			if !ok {
				return
			}
			switch evt.Type {
			case EventSyncRequired, EventEntityUpdated, EventConflictResolved:
				e.signalWake()
			}
		}
	}
}

// run is the main loop (spec §4.14 step 2). It wakes on a timer computed
// from the current head of the queue, debounced against bursts of
// signalWake calls.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			drainTimer(timer)
			timer.Reset(debounce)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		case <-timer.C:
		}

		next := e.tick(ctx)
		drainTimer(timer)
		timer.Reset(next)
	}
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// tick runs one iteration of the loop body and returns how long to sleep
// before the next iteration absent any wake signal in the meantime (spec
// §4.14 step 2).
func (e *Engine) tick(ctx context.Context) time.Duration {
	e.runRetention(ctx)
	e.coalesceBatches(ctx)

	tripped, err := e.circuit.IsTripped(ctx, e.now())
	if err != nil {
		e.logger.Error("sync engine circuit check failed", "error", err)
		return time.Second
	}
	if tripped {
		end, err := e.circuit.CooldownEnd(ctx)
		if err != nil || end.IsZero() {
			return circuitbreaker.DefaultCooldown
		}
		if d := end.Sub(e.now()); d > 0 {
			return d
		}
		return time.Millisecond
	}

	pending, err := e.pending.Oldest(ctx)
	if err != nil {
		e.logger.Error("sync engine fetch oldest failed", "error", err)
		return time.Second
	}
	if pending == nil {
		return time.Hour
	}

	if !pending.NextAttemptAt.IsZero() && pending.NextAttemptAt.After(e.now()) {
		return pending.NextAttemptAt.Sub(e.now())
	}

	if pending.IdempotencyKey == "" {
		pending.IdempotencyKey = uuid.NewString()
		if err := e.pending.Update(ctx, *pending); err != nil {
			e.logger.Error("sync engine assign idempotency key failed", "error", err, "op_id", pending.ID)
			return time.Second
		}
	}

	duplicate, err := e.idempotency.IsDuplicate(ctx, pending.IdempotencyKey, e.now())
	if err != nil {
		e.logger.Error("sync engine idempotency check failed", "error", err, "op_id", pending.ID)
		return time.Second
	}
	if duplicate {
		// This key was already marked processed — most likely the op
		// succeeded against the server before a crash or restart
		// prevented pendingstore from recording it. Finalize locally
		// without re-dispatching so a retried create/charge/etc. never
		// hits the network twice (spec §4.5/§4.14).
		e.succeed(ctx, *pending)
		return 0
	}

	e.dispatch(ctx, *pending)
	return 0
}

// runRetention archives old failed ops, purges expired failed ops and
// expired idempotency keys (spec §4.2/§4.5). It is rate-limited to
// retentionInterval and runs on the engine loop goroutine, never
// concurrently with dispatch, matching spec §5's synchronous-on-the-loop
// requirement for this class of maintenance pass.
func (e *Engine) runRetention(ctx context.Context) {
	if !e.lastRetention.IsZero() && e.now().Sub(e.lastRetention) < retentionInterval {
		return
	}
	e.lastRetention = e.now()

	if n, err := e.failed.Archive(ctx, 0, e.now()); err != nil {
		e.logger.Error("sync engine retention: archive failed ops failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync engine retention: archived failed ops", "count", n)
	}
	if n, err := e.failed.PurgeExpired(ctx, 0, e.now()); err != nil {
		e.logger.Error("sync engine retention: purge failed ops failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync engine retention: purged failed ops", "count", n)
	}
	if n, err := e.idempotency.PurgeExpired(ctx, 0, e.now()); err != nil {
		e.logger.Error("sync engine retention: purge idempotency cache failed", "error", err)
	} else if n > 0 {
		e.logger.Info("sync engine retention: purged idempotency keys", "count", n)
	}
}

// coalesceBatches folds queued RecordVital ops of the same vital kind
// into a single BatchCreate op once batchThreshold of them have piled up
// (spec §4.10). It runs ahead of the single-op dispatch path on the same
// loop iteration so FIFO ordering among the folded ops is preserved: the
// batch takes on the oldest member's id/createdAt/idempotencyKey.
func (e *Engine) coalesceBatches(ctx context.Context) {
	queued, err := e.pending.All(ctx)
	if err != nil {
		e.logger.Error("sync engine batch coalesce: list queued failed", "error", err)
		return
	}

	groups := make(map[string][]op.PendingOp)
	for _, o := range queued {
		if o.Status != op.StatusQueued || o.OpType != op.RecordVital {
			continue
		}
		groups[o.EntityType] = append(groups[o.EntityType], o)
	}

	for entityType, group := range groups {
		if len(group) < batchThreshold {
			continue
		}
		batched, ok := coalescer.Batch(group)
		if !ok {
			continue
		}
		batched.OpType = op.BatchCreate

		for _, o := range group {
			if err := e.pending.MarkProcessed(ctx, o.ID); err != nil {
				e.logger.Error("sync engine batch coalesce: remove folded op failed", "error", err, "op_id", o.ID, "entity_type", entityType)
				return
			}
		}
		if err := e.pending.Enqueue(ctx, batched); err != nil {
			e.logger.Error("sync engine batch coalesce: enqueue batch failed", "error", err, "entity_type", entityType)
			return
		}
		e.logger.Info("sync engine batch coalesce: folded vitals", "entity_type", entityType, "batch_size", len(group))
	}
}

// dispatch resolves the op's route and executes it, routing the outcome
// per spec §4.14 steps 3-8.
func (e *Engine) dispatch(ctx context.Context, pending op.PendingOp) {
	route, ok := e.router.Resolve(pending.OpType, pending.EntityType)
	if !ok {
		e.permanentFailure(ctx, pending, "route_not_found", fmt.Sprintf("no route for %s/%s", pending.OpType, pending.EntityType))
		return
	}

	path, err := route.PathBuilder(pending.Payload)
	if err != nil {
		e.permanentFailure(ctx, pending, "validation", err.Error())
		return
	}
	body, err := route.Transform(pending.Payload)
	if err != nil {
		e.permanentFailure(ctx, pending, "validation", err.Error())
		return
	}

	opts := apiclient.RequestOptions{
		Method:    route.Method,
		Path:      path,
		Body:      body,
		TraceID:   pending.TraceID,
		TxnToken:  pending.TxnToken,
		RetryAuth: true,
	}
	if route.RequiresIdempotency {
		opts.IdempotencyKey = pending.IdempotencyKey
	}

	_, taxErr := e.client.Request(ctx, opts)
	if taxErr == nil {
		e.succeed(ctx, pending)
		return
	}

	e.handleError(ctx, pending, taxErr)
}

// fetchServerState issues a GET for the op's target resource, used by
// handleConflict ahead of a versionMismatch rebase (spec §4.12).
func (e *Engine) fetchServerState(ctx context.Context, pending op.PendingOp) (map[string]any, *taxonomy.Error) {
	path, err := e.router.FetchPath(pending.EntityType, pending.EntityID())
	if err != nil {
		return nil, &taxonomy.Error{Kind: taxonomy.Validation, Message: err.Error(), TraceID: pending.TraceID}
	}
	return e.client.Request(ctx, apiclient.RequestOptions{
		Method:  "GET",
		Path:    path,
		TraceID: pending.TraceID,
	})
}

func (e *Engine) succeed(ctx context.Context, pending op.PendingOp) {
	if err := e.circuit.RecordSuccess(ctx); err != nil {
		e.logger.Error("sync engine record success failed", "error", err)
	}
	e.optimistic.Commit(pending.TxnToken)
	if err := e.pending.MarkProcessed(ctx, pending.ID); err != nil {
		e.logger.Error("sync engine mark processed failed", "error", err, "op_id", pending.ID)
	}
	if pending.IdempotencyKey != "" {
		if err := e.idempotency.MarkProcessed(ctx, pending.IdempotencyKey, e.now()); err != nil {
			e.logger.Error("sync engine mark idempotency processed failed", "error", err)
		}
	}
	metrics.SuccessTotal.Inc()
	e.refreshQueueDepth(ctx)
}

func (e *Engine) handleError(ctx context.Context, pending op.PendingOp, taxErr *taxonomy.Error) {
	switch taxErr.Kind {
	case taxonomy.Unauthorized:
		e.permanentFailure(ctx, pending, "unauthorized", taxErr.Error())
		return
	case taxonomy.Conflict, taxonomy.ResourceNotFound:
		e.handleConflict(ctx, pending, taxErr)
		return
	}

	if taxErr.Retryable() {
		e.retry(ctx, pending, taxErr)
		return
	}

	e.permanentFailure(ctx, pending, string(taxErr.Kind), taxErr.Error())
}

func (e *Engine) retry(ctx context.Context, pending op.PendingOp, taxErr *taxonomy.Error) {
	cause := "non_network"
	if taxErr.Kind == taxonomy.Network {
		cause = "network"
	}
	metrics.FailureTotal.WithLabelValues(cause).Inc()

	wasTripped, _ := e.circuit.IsTripped(ctx, e.now())
	if err := e.circuit.RecordFailure(ctx, e.now()); err != nil {
		e.logger.Error("sync engine record failure failed", "error", err)
	}
	if nowTripped, _ := e.circuit.IsTripped(ctx, e.now()); nowTripped && !wasTripped {
		metrics.CircuitTripsTotal.Inc()
	}

	pending.Attempts++
	if pending.Attempts >= e.maxAttempts {
		e.permanentFailure(ctx, pending, string(taxErr.Kind), taxErr.Error())
		return
	}

	delay := backoffDelay(pending.Attempts, taxErr.RetryAfter)
	pending.NextAttemptAt = e.now().Add(delay)
	if err := e.pending.Update(ctx, pending); err != nil {
		e.logger.Error("sync engine persist retry failed", "error", err, "op_id", pending.ID)
	}
	metrics.RetriesTotal.Inc()
}

// handleConflict runs the conflict resolver against a 409/404 and takes
// the resulting action (spec §4.11/§4.12): rebase-and-redispatch, a
// success-equivalent finalize, or a permanent failure, with semantic
// conflicts and stale updates surfaced as auditable archival events.
func (e *Engine) handleConflict(ctx context.Context, pending op.PendingOp, taxErr *taxonomy.Error) {
	class := conflict.Classify(taxErr, pending.OpType)
	action := conflict.ActionFor(class, pending.OpType)
	metrics.ConflictsResolvedTotal.WithLabelValues(string(class)).Inc()

	switch action {
	case conflict.ActionSuccess:
		if class == conflict.DuplicateCreate {
			e.resolveDuplicateCreate(ctx, pending, taxErr)
			return
		}
		if pending.OpType == op.Delete {
			e.resolveDeleteSuccess(ctx, pending, taxErr)
			return
		}
		e.succeed(ctx, pending)
	case conflict.ActionRebase:
		fetched, fetchErr := e.fetchServerState(ctx, pending)
		if fetchErr != nil {
			e.permanentFailure(ctx, pending, "reconciliation_error", fetchErr.Error())
			return
		}
		rebased := reconciler.Rebase(pending, fetched, e.now())
		if err := e.pending.MarkProcessed(ctx, pending.ID); err != nil {
			e.logger.Error("sync engine rebase: remove original failed", "error", err, "op_id", pending.ID)
			return
		}
		if err := e.pending.Enqueue(ctx, rebased); err != nil {
			e.logger.Error("sync engine rebase: enqueue rebased op failed", "error", err)
			return
		}
		e.dispatch(ctx, rebased)
	case conflict.ActionPermanentAuditable, conflict.ActionSurfaceForReview:
		e.permanentFailure(ctx, pending, string(class), taxErr.Error())
	default:
		e.permanentFailure(ctx, pending, string(class), taxErr.Error())
	}
}

// resolveDuplicateCreate handles a duplicateCreate conflict (spec
// §4.12): fetch the resource the server says already exists and only
// finalize as success if it matches the local create's intent
// field-by-field on reconciler's allowlist; a same-unique-key collision
// against a genuinely different resource is archived instead of
// silently committed.
func (e *Engine) resolveDuplicateCreate(ctx context.Context, pending op.PendingOp, taxErr *taxonomy.Error) {
	fetched, fetchErr := e.fetchServerState(ctx, pending)
	if fetchErr != nil {
		e.permanentFailure(ctx, pending, "reconciliation_error", fetchErr.Error())
		return
	}
	if reconciler.MatchesCreateIntent(pending, fetched, reconciler.DefaultCreateIntentFields) {
		e.succeed(ctx, pending)
		return
	}
	e.permanentFailure(ctx, pending, string(conflict.DuplicateCreate), taxErr.Error())
}

// resolveDeleteSuccess confirms a delete conflict (404/410 on a DELETE)
// is really the desired end state before finalizing as success, instead
// of trusting the status code alone: it refetches the resource and runs
// reconciler.ResolveDeleteConflict against whether that fetch found it
// (spec §4.12). A fetch that fails for any reason (including a fresh 404
// confirming the resource is gone) is treated as "does not exist",
// matching the common case this conflict is raised for.
func (e *Engine) resolveDeleteSuccess(ctx context.Context, pending op.PendingOp, taxErr *taxonomy.Error) {
	_, fetchErr := e.fetchServerState(ctx, pending)
	resourceExists := fetchErr == nil
	if !reconciler.ResolveDeleteConflict(resourceExists) {
		e.permanentFailure(ctx, pending, string(conflict.SemanticConflict), taxErr.Error())
		return
	}
	e.succeed(ctx, pending)
}

// permanentFailure archives pending as a terminal failure and rolls back
// its optimistic txn exactly once (spec §4.14 steps 5-8, §7: "Every
// archived op triggers its txnToken's rollback exactly once").
func (e *Engine) permanentFailure(ctx context.Context, pending op.PendingOp, reason, message string) {
	if err := e.failed.Record(ctx, pending, reason, message, e.now()); err != nil {
		e.logger.Error("sync engine archive failed op failed", "error", err, "op_id", pending.ID)
	}
	if err := e.pending.MarkFailed(ctx, pending.ID); err != nil {
		e.logger.Error("sync engine mark failed failed", "error", err, "op_id", pending.ID)
	}
	e.optimistic.Rollback(pending.TxnToken, message)
	e.logger.Warn("sync engine archived op", "op_id", pending.ID, "reason", reason, "message", message)
	e.refreshQueueDepth(ctx)
}

// backoffDelay computes the next retry delay using the package-default
// backoff configuration (spec §4.4/§9: the short-cap variant is the
// production default).
func backoffDelay(attempts int, retryAfter *time.Duration) time.Duration {
	return backoff.DefaultConfig().Delay(attempts, retryAfter)
}

func (e *Engine) refreshQueueDepth(ctx context.Context) {
	n, err := e.pending.Count(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(n))
}
