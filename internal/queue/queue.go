// Package queue defines the abstract work-queue contract the executor,
// trigger engine, and lifecycle runner dispatch onto. A durable substrate
// offering at-least-once, ordered-per-key delivery is an explicit external
// collaborator (spec.md §1); this package exposes the contract plus an
// in-memory implementation for tests and single-process deployments.
package queue

import (
	"context"
	"sync"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// Kind identifies what sort of work an enqueued payload represents, used by
// the substrate to apply kind-specific visibility timeouts.
type Kind string

const (
	KindRunDispatch      Kind = "run-dispatch"
	KindStepDispatch     Kind = "step-dispatch"
	KindTriggerDelivery  Kind = "trigger-delivery"
	KindScheduleTick     Kind = "schedule-tick"
	KindLifecycleJob     Kind = "lifecycle-job"
)

// Message is one unit of work pulled from the queue.
type Message struct {
	Kind    Kind
	Key     string // delivery ordering key
	Payload []byte
}

// Queue is the abstract work-queue contract.
type Queue interface {
	// Enqueue places payload on the queue under kind, with ordered delivery
	// guaranteed among messages sharing the same key.
	Enqueue(ctx context.Context, kind Kind, key string, payload []byte) error
}

// Handler processes one dequeued Message.
type Handler func(ctx context.Context, msg Message) error

// InMemoryQueue is a single-process Queue backed by one channel per (kind,
// key) mailbox, with strict per-key ordering enforced by that mailbox's
// goroutine — enough
// fidelity for tests and for exercising the executor/trigger pipelines
// without a real broker.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[Kind]Handler
	mailbox  map[string]chan Message // keyed by kind+"/"+key
	closed   bool
}

// NewInMemoryQueue creates an empty in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[Kind]Handler),
		mailbox:  make(map[string]chan Message),
	}
}

// RegisterHandler wires a Handler for a Kind; must be called before any
// Enqueue of that kind.
func (q *InMemoryQueue) RegisterHandler(kind Kind, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

func (q *InMemoryQueue) mailboxKey(kind Kind, key string) string {
	return string(kind) + "/" + key
}

// Enqueue implements Queue. Messages sharing a (kind, key) are delivered to
// the registered handler strictly in enqueue order via a dedicated worker
// goroutine per (kind, key), fed by a 256-slot buffered channel and started
// lazily on first use.
func (q *InMemoryQueue) Enqueue(ctx context.Context, kind Kind, key string, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return apperrors.New(apperrors.KindQueueUnavailable, "queue is closed")
	}
	handler, ok := q.handlers[kind]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.KindQueueUnavailable, "no handler registered for kind "+string(kind))
	}

	mbKey := q.mailboxKey(kind, key)
	ch, exists := q.mailbox[mbKey]
	if !exists {
		ch = make(chan Message, 256)
		q.mailbox[mbKey] = ch
		go q.drain(ch, handler)
	}
	q.mu.Unlock()

	select {
	case ch <- Message{Kind: kind, Key: key, Payload: payload}:
		return nil
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.KindQueueUnavailable, "enqueue canceled", ctx.Err())
	}
}

func (q *InMemoryQueue) drain(ch chan Message, handler Handler) {
	for msg := range ch {
		// Best-effort: a stuck/slow handler only blocks its own key's
		// mailbox, matching the ordered-per-key delivery contract.
		_ = handler(context.Background(), msg)
	}
}

// Close stops accepting new work. In-flight per-key mailboxes drain and
// their goroutines exit once emptied.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, ch := range q.mailbox {
		close(ch)
	}
}
