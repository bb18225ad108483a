package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/models"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

const (
	JobPoolEvents = "pool_event_sync"

	SourceWebhook   = "webhook"
	SourceManual    = "manual"
	SourceReprocess = "reprocess"
)

// Batch is an ordered list of raw logs from one network and source.
type Batch struct {
	Network   string
	Source    string
	FromBlock int64
	ToBlock   int64
	Logs      []blockchain.RawLog
}

type Summary struct {
	RunID uint64 `json:"runId"`
	Counts
	Results []Result `json:"results"`
}

// Orchestrator runs batches through persist, decode, route and status bookkeeping.
type Orchestrator struct {
	eventRepo *repository.EventRepository
	decoder   *blockchain.Decoder
	router    *Router
	tracker   *SyncTracker
	cfg       config.IngestionConfig
	pool      pond.Pool
}

func NewOrchestrator(
	eventRepo *repository.EventRepository,
	decoder *blockchain.Decoder,
	router *Router,
	tracker *SyncTracker,
	cfg config.IngestionConfig,
) *Orchestrator {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Orchestrator{
		eventRepo: eventRepo,
		decoder:   decoder,
		router:    router,
		tracker:   tracker,
		cfg:       cfg,
		pool:      pond.NewPool(parallelism),
	}
}

// Close waits for in-flight groups and stops the worker pool.
func (o *Orchestrator) Close() {
	o.pool.StopAndWait()
}

// Ingest adapts Process to the chain poller.
func (o *Orchestrator) Ingest(ctx context.Context, network, source string, from, to int64, logs []blockchain.RawLog) error {
	_, err := o.Process(ctx, Batch{
		Network:   network,
		Source:    source,
		FromBlock: from,
		ToBlock:   to,
		Logs:      logs,
	})
	return err
}

// item is one log moving through a batch.
type item struct {
	index     int
	log       *blockchain.Log
	event     *blockchain.DecodedEvent
	persisted bool
}

// Process handles one batch. Individual event failures never abort it; an error is
// returned only when the run itself cannot be recorded. An empty batch is a no-op.
func (o *Orchestrator) Process(ctx context.Context, batch Batch) (*Summary, error) {
	if len(batch.Logs) == 0 {
		return &Summary{Results: []Result{}}, nil
	}
	if batch.Source == "" {
		batch.Source = SourceManual
	}

	if o.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.BatchTimeout)
		defer cancel()
	}
	// bookkeeping writes must land even when the batch deadline has passed
	bookCtx := context.WithoutCancel(ctx)

	runID, err := o.tracker.Start(bookCtx, JobPoolEvents, batch.Source, batch.Network, batch.FromBlock, batch.ToBlock)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(batch.Logs))
	items := make([]*item, 0, len(batch.Logs))
	for i, raw := range batch.Logs {
		log, err := blockchain.ParseRawLog(batch.Network, raw)
		if err != nil {
			results[i] = Result{
				Event:   blockchain.KindUnknown.String(),
				TxHash:  raw.TransactionHash,
				Index:   uint(raw.LogIndex),
				Removed: raw.Removed,
			}.withError(errors.New(errors.ErrEventDecode, "malformed log", err))
			continue
		}
		items = append(items, &item{index: i, log: log})
	}

	persistErr := o.persist(bookCtx, batch, items)

	groups, order := o.decodeAndGroup(items, results)
	o.runGroups(ctx, bookCtx, groups, order, results)

	for _, it := range items {
		if it.persisted {
			o.recordStatus(bookCtx, it, results[it.index])
		}
	}

	summary := &Summary{RunID: runID, Results: results}
	summary.Found = len(results)
	for _, r := range results {
		switch {
		case r.Outcome == OutcomeFailed:
			summary.Failed++
		case r.Skipped():
			summary.Skipped++
		default:
			summary.Processed++
		}
	}

	runErr := o.runError(ctx, persistErr, summary)
	if err := o.tracker.Complete(bookCtx, runID, summary.Counts, runErr); err != nil {
		logger.WithError(err).Error("failed to finalize sync run")
	}

	logger.WithFields(map[string]interface{}{
		"run_id":    runID,
		"network":   batch.Network,
		"source":    batch.Source,
		"found":     summary.Found,
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("batch processed")
	return summary, nil
}

// persist stores the raw logs with conflict-ignore. Failure is logged and processing continues.
func (o *Orchestrator) persist(ctx context.Context, batch Batch, items []*item) error {
	seen := make(map[repository.EventKey]bool, len(items))
	rows := make([]*models.BlockchainEvent, 0, len(items))
	for _, it := range items {
		key := eventKey(it.log)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, toEventRow(it.log, batch.Source))
	}

	if _, err := o.eventRepo.InsertIgnore(ctx, rows); err != nil {
		logger.WithFields(map[string]interface{}{
			"network": batch.Network,
			"events":  len(rows),
		}).WithError(err).Warn("failed to persist raw events, continuing")
		return err
	}
	for _, it := range items {
		it.persisted = true
	}
	return nil
}

// decodeAndGroup decodes every item and groups the known ones by pool address, keeping
// delivery order inside each group. Unknown topics and decode failures are resolved here.
func (o *Orchestrator) decodeAndGroup(items []*item, results []Result) (map[string][]*item, []string) {
	groups := make(map[string][]*item)
	var order []string

	for _, it := range items {
		if !o.router.Handles(it.log.Topic0()) {
			o.router.CountUnknown()
			results[it.index] = newResult(it.log, blockchain.KindUnknown).withOutcome(OutcomeIgnored)
			continue
		}

		event, err := o.decoder.Decode(it.log)
		if err != nil {
			results[it.index] = newResult(it.log, kindOf(it.log)).
				withError(errors.New(errors.ErrEventDecode, "decode log", err))
			continue
		}
		it.event = event

		key := strings.ToLower(event.PoolAddress().Hex())
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], it)
	}
	return groups, order
}

func kindOf(log *blockchain.Log) blockchain.EventKind {
	if schema := blockchain.SchemaFor(log.Topic0()); schema != nil {
		return schema.Kind
	}
	return blockchain.KindUnknown
}

// runGroups applies pool groups in parallel and the events of one pool sequentially.
func (o *Orchestrator) runGroups(ctx, bookCtx context.Context, groups map[string][]*item, order []string, results []Result) {
	if len(order) == 0 {
		return
	}

	group := o.pool.NewGroupContext(ctx)
	for _, key := range order {
		members := groups[key]
		group.Submit(func() {
			for _, it := range members {
				if err := ctx.Err(); err != nil {
					results[it.index] = newResult(it.log, it.event.Kind).
						withError(errors.New(errors.ErrStore, "batch deadline exceeded", err))
					continue
				}
				if it.persisted {
					if err := o.eventRepo.MarkProcessing(bookCtx, eventKey(it.log)); err != nil {
						logger.WithError(err).Warn("failed to mark event processing")
					}
				}
				results[it.index] = o.router.Route(ctx, it.event)
			}
		})
	}
	if err := group.Wait(); err != nil {
		logger.WithError(err).Warn("event group interrupted")
	}

	// groups the pool never started leave zero results behind
	for _, key := range order {
		for _, it := range groups[key] {
			if results[it.index].Outcome == "" {
				results[it.index] = newResult(it.log, it.event.Kind).
					withError(errors.New(errors.ErrStore, "event not processed before deadline", ctx.Err()))
			}
		}
	}
}

func (o *Orchestrator) recordStatus(ctx context.Context, it *item, r Result) {
	key := eventKey(it.log)
	var err error
	if r.Outcome == OutcomeFailed {
		err = o.eventRepo.MarkFailed(ctx, key, it.log.Removed, r.Error)
	} else {
		err = o.eventRepo.MarkProcessed(ctx, key, it.log.Removed)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"tx_hash":   key.TransactionHash,
			"log_index": key.LogIndex,
		}).WithError(err).Warn("failed to update event status")
	}
}

// runError decides whether the run as a whole failed: the batch deadline passed, or the
// store was unreachable for every event.
func (o *Orchestrator) runError(ctx context.Context, persistErr error, s *Summary) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}
	if persistErr == nil || s.Failed != s.Found {
		return nil
	}
	for _, r := range s.Results {
		if r.Failure != FailureStore {
			return nil
		}
	}
	return fmt.Errorf("store unavailable: %w", persistErr)
}

// Reprocess re-feeds failed events that still have retries left, one batch per network.
func (o *Orchestrator) Reprocess(ctx context.Context, network string) ([]*Summary, error) {
	limit := o.cfg.ReprocessSize
	if limit <= 0 {
		limit = 200
	}
	events, err := o.eventRepo.ListRetryable(ctx, network, o.cfg.MaxRetries, limit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	byNetwork := make(map[string][]blockchain.RawLog)
	var networks []string
	for i := range events {
		e := &events[i]
		if _, ok := byNetwork[e.Network]; !ok {
			networks = append(networks, e.Network)
		}
		byNetwork[e.Network] = append(byNetwork[e.Network], fromEventRow(e))
	}

	summaries := make([]*Summary, 0, len(networks))
	for _, n := range networks {
		summary, err := o.Process(ctx, Batch{Network: n, Source: SourceReprocess, Logs: byNetwork[n]})
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func eventKey(log *blockchain.Log) repository.EventKey {
	return repository.EventKey{
		Network:         log.Network,
		TransactionHash: strings.ToLower(log.TxHash.Hex()),
		LogIndex:        log.LogIndex,
	}
}

func toEventRow(log *blockchain.Log, source string) *models.BlockchainEvent {
	topics := make([]string, len(log.Topics))
	for i, t := range log.Topics {
		topics[i] = t.Hex()
	}
	topic0 := ""
	if len(topics) > 0 {
		topic0 = topics[0]
	}
	return &models.BlockchainEvent{
		Network:         log.Network,
		ContractAddress: strings.ToLower(log.Address.Hex()),
		Topic0:          topic0,
		Topics:          topics,
		Data:            hexutil.Encode(log.Data),
		BlockNumber:     int64(log.BlockNumber),
		TransactionHash: strings.ToLower(log.TxHash.Hex()),
		LogIndex:        log.LogIndex,
		Removed:         log.Removed,
		Source:          source,
		Status:          models.EventStatusPending,
	}
}

func fromEventRow(e *models.BlockchainEvent) blockchain.RawLog {
	return blockchain.RawLog{
		Address:         e.ContractAddress,
		Topics:          e.Topics,
		Data:            e.Data,
		BlockNumber:     blockchain.Quantity(e.BlockNumber),
		TransactionHash: e.TransactionHash,
		LogIndex:        blockchain.Quantity(e.LogIndex),
		Removed:         e.Removed,
	}
}
