// Package relay observes committed ledger mutations and mirrors them into
// the off-chain store. It merges two independent, asynchronously-arriving
// streams keyed by transaction id: domain events emitted by the state
// machine, and block-commit notifications from the ledger network. Row-level
// correctness relies on the store's atomic insert-or-ignore and
// update-by-unique-key semantics, not on relay-side locking.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ShanRaboy11/unitap/pkg/logger"
	"github.com/ShanRaboy11/unitap/repository/models"
	"github.com/pkg/errors"
)

// DomainEvent is one committed state mutation, arriving at
// application-submission time.
type DomainEvent struct {
	Name    string
	Payload json.RawMessage
	TxID    string
	Height  int64
}

// BlockCommit is one committed block and the transaction ids it contains.
type BlockCommit struct {
	Height int64
	Hash   string
	TxIDs  []string
}

// BlockRef is the block linkage attached to an EventRecord.
type BlockRef struct {
	Number int64
	Hash   string
}

// EventStore is the off-chain store surface the relay needs. Implemented by
// the repository package.
type EventStore interface {
	InsertEvent(ctx context.Context, rec *models.EventRecord) error
	SetBlockRef(ctx context.Context, txID string, number int64, hash string) (bool, error)
	Ping(ctx context.Context) error
}

// BlockFetcher resolves the committing block of a domain event, best effort.
type BlockFetcher interface {
	BlockRefByHeight(ctx context.Context, height int64) (*BlockRef, error)
}

// Options tune the relay. Zero values fall back to defaults.
type Options struct {
	FallbackPath string
	// HealthInterval is how often the store is pinged while unhealthy (and
	// re-verified while healthy).
	HealthInterval time.Duration
	// PendingTTL bounds how long a block ref waits for its event row before
	// being dropped. This is the eventual-completeness vs bounded-latency
	// knob.
	PendingTTL time.Duration
	// PendingMax bounds the pending buffer size.
	PendingMax int
	Metrics    *Metrics
	Now        func() time.Time
}

type pendingBlock struct {
	ref      BlockRef
	buffered time.Time
}

// Relay merges the two input streams into at most one EventRecord per txId.
// Run owns all mutable state; handlers for different transactions are
// serialized through its select loop while every store write stays atomic on
// its own.
type Relay struct {
	store    EventStore
	blocks   BlockFetcher
	fallback *FallbackWriter
	opts     Options
	metrics  *Metrics
	now      func() time.Time

	useDB   bool
	pending map[string]pendingBlock
}

func New(store EventStore, blocks BlockFetcher, opts Options) *Relay {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 2 * time.Minute
	}
	if opts.PendingMax <= 0 {
		opts.PendingMax = 4096
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = "events.jsonl"
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		store:    store,
		blocks:   blocks,
		fallback: NewFallbackWriter(opts.FallbackPath),
		opts:     opts,
		metrics:  metrics,
		now:      now,
		pending:  make(map[string]pendingBlock),
	}
}

// Run consumes both streams until ctx is cancelled. Intake stops on
// cancellation; the in-flight handler completes (at-least-once, no partial
// rollback).
func (r *Relay) Run(ctx context.Context, events <-chan DomainEvent, blocks <-chan BlockCommit) error {
	defer r.fallback.Close()

	r.checkHealth(ctx)
	if !r.useDB {
		logger.Warn("store unavailable at startup; relaying to fallback file",
			"path", r.opts.FallbackPath)
	}

	healthTicker := time.NewTicker(r.opts.HealthInterval)
	defer healthTicker.Stop()
	pendingTicker := time.NewTicker(r.opts.PendingTTL / 4)
	defer pendingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, ev)
		case bc, ok := <-blocks:
			if !ok {
				return nil
			}
			r.handleBlock(ctx, bc)
		case <-healthTicker.C:
			r.checkHealth(ctx)
		case <-pendingTicker.C:
			r.sweepPending(ctx)
		}
	}
}

// handleEvent persists one domain event, merging in whatever block linkage
// is already known.
func (r *Relay) handleEvent(ctx context.Context, ev DomainEvent) {
	ref := r.resolveBlock(ctx, ev)

	rec := &models.EventRecord{
		EventName: ev.Name,
		Payload:   string(ev.Payload),
		TxID:      ev.TxID,
		CreatedAt: r.now().UTC(),
	}
	if ref != nil {
		rec.BlockNumber = &ref.Number
		rec.BlockHash = &ref.Hash
	}

	if r.useDB {
		if err := r.store.InsertEvent(ctx, rec); err != nil {
			logger.Error("failed to write event to store; falling back to file",
				"tx_id", ev.TxID, "error", err)
			r.useDB = false
			r.writeFallback(rec)
			return
		}
		r.metrics.EventsPersisted.Inc()
		delete(r.pending, ev.TxID)
		return
	}

	r.writeFallback(rec)
}

// handleBlock reconciles the block linkage into every event row the block
// contains. Rows that do not exist yet are buffered until the pending write
// lands or the TTL expires.
func (r *Relay) handleBlock(ctx context.Context, bc BlockCommit) {
	ref := BlockRef{Number: bc.Height, Hash: bc.Hash}

	for _, txID := range bc.TxIDs {
		if !r.useDB {
			r.bufferPending(txID, ref)
			continue
		}
		matched, err := r.store.SetBlockRef(ctx, txID, ref.Number, ref.Hash)
		if err != nil {
			logger.Error("failed to reconcile block into store", "tx_id", txID, "error", err)
			r.useDB = false
			r.bufferPending(txID, ref)
			continue
		}
		if !matched {
			// Block arrived before the event row; keep the fact around.
			r.bufferPending(txID, ref)
			continue
		}
		r.metrics.BlocksReconciled.Inc()
	}
}

// resolveBlock finds the committing block for an event: buffered block facts
// first, then a best-effort lookup. Lookup failure is non-fatal and leaves
// the block fields null pending later reconciliation.
func (r *Relay) resolveBlock(ctx context.Context, ev DomainEvent) *BlockRef {
	if p, ok := r.pending[ev.TxID]; ok {
		ref := p.ref
		return &ref
	}
	if r.blocks == nil || ev.Height == 0 {
		return nil
	}
	ref, err := r.blocks.BlockRefByHeight(ctx, ev.Height)
	if err != nil {
		r.metrics.LookupFailures.Inc()
		logger.Debug("block lookup failed", "height", ev.Height, "error", err)
		return nil
	}
	return ref
}

func (r *Relay) bufferPending(txID string, ref BlockRef) {
	if _, ok := r.pending[txID]; !ok && len(r.pending) >= r.opts.PendingMax {
		logger.Warn("pending block buffer full; dropping block fact", "tx_id", txID)
		r.metrics.PendingDropped.Inc()
		return
	}
	r.pending[txID] = pendingBlock{ref: ref, buffered: r.now()}
	r.metrics.PendingBuffered.Inc()
}

// sweepPending retries buffered block facts against the store and evicts the
// ones past their TTL.
func (r *Relay) sweepPending(ctx context.Context) {
	for txID, p := range r.pending {
		if r.now().Sub(p.buffered) > r.opts.PendingTTL {
			delete(r.pending, txID)
			r.metrics.PendingExpired.Inc()
			continue
		}
		if !r.useDB {
			continue
		}
		matched, err := r.store.SetBlockRef(ctx, txID, p.ref.Number, p.ref.Hash)
		if err != nil {
			r.useDB = false
			return
		}
		if matched {
			delete(r.pending, txID)
			r.metrics.BlocksReconciled.Inc()
		}
	}
}

func (r *Relay) writeFallback(rec *models.EventRecord) {
	if err := r.fallback.Append(FallbackRecordFrom(rec)); err != nil {
		// Both the store and the local disk failed; nothing left but the log.
		logger.Error("failed to write event to file fallback", "tx_id", rec.TxID,
			"error", errors.Wrap(err, "fallback append"))
		return
	}
	r.metrics.FallbackWrites.Inc()
}

// checkHealth probes the store and routes the relay accordingly. Transitions
// are logged once per flip.
func (r *Relay) checkHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.store.Ping(pingCtx)
	healthy := err == nil
	if healthy && !r.useDB {
		logger.Info("store connection ok; resuming direct writes")
	}
	if !healthy && r.useDB {
		logger.Warn("store connection failed; falling back to file", "error", err)
	}
	r.useDB = healthy
}
