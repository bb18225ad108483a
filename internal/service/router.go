package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// FailureKind classifies failed results: decode, missing dependency, or store trouble.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureDecode     FailureKind = "decode"
	FailureDependency FailureKind = "dependency"
	FailureStore      FailureKind = "store"
)

// Result is the per-event outcome of routing and applying.
type Result struct {
	Kind    blockchain.EventKind `json:"-"`
	Event   string               `json:"event"`
	TxHash  string               `json:"txHash"`
	Index   uint                 `json:"logIndex"`
	Removed bool                 `json:"removed"`
	Outcome Outcome              `json:"outcome"`
	Failure FailureKind          `json:"failure,omitempty"`
	Err     error                `json:"-"`
	Error   string               `json:"error,omitempty"`
}

// Skipped reports outcomes that count as neither processed nor failed.
func (r Result) Skipped() bool {
	return r.Outcome == OutcomeDuplicate || r.Outcome == OutcomeIgnored
}

func newResult(log *blockchain.Log, kind blockchain.EventKind) Result {
	return Result{
		Kind:    kind,
		Event:   kind.String(),
		TxHash:  log.TxHash.Hex(),
		Index:   log.LogIndex,
		Removed: log.Removed,
	}
}

func (r Result) withOutcome(o Outcome) Result {
	r.Outcome = o
	return r
}

// withError records err as a failure, classified by its AppError code.
func (r Result) withError(err error) Result {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.Error = err.Error()
	switch errors.CodeOf(err) {
	case errors.ErrEventDecode:
		r.Failure = FailureDecode
	case errors.ErrDependencyNotFound:
		r.Failure = FailureDependency
	default:
		r.Failure = FailureStore
	}
	return r
}

// Handler applies one decoded event.
type Handler func(ctx context.Context, event *blockchain.DecodedEvent) Result

// Router dispatches decoded events to the handler registered for their topic.
type Router struct {
	handlers map[common.Hash]Handler
	counts   *xsync.Map[string, int64]
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[common.Hash]Handler),
		counts:   xsync.NewMap[string, int64](),
	}
}

// Register binds h to topic. It is not safe to call concurrently with Route.
func (r *Router) Register(topic common.Hash, h Handler) {
	r.handlers[topic] = h
}

func (r *Router) Handles(topic common.Hash) bool {
	_, ok := r.handlers[topic]
	return ok
}

func (r *Router) Route(ctx context.Context, event *blockchain.DecodedEvent) Result {
	h, ok := r.handlers[event.Log.Topic0()]
	if !ok {
		r.count(blockchain.KindUnknown.String())
		return newResult(event.Log, event.Kind).withOutcome(OutcomeIgnored)
	}
	r.count(event.Kind.String())
	return h(ctx, event)
}

// CountUnknown records a log that never reached Route because its topic is unregistered.
func (r *Router) CountUnknown() {
	r.count(blockchain.KindUnknown.String())
}

func (r *Router) count(key string) {
	r.counts.Compute(key, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
}

// Counts returns the number of dispatched events per kind, "Unknown" included.
func (r *Router) Counts() map[string]int64 {
	out := make(map[string]int64)
	r.counts.Range(func(k string, v int64) bool {
		out[k] = v
		return true
	})
	return out
}
