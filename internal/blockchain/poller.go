package blockchain

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

const (
	SourcePoll     = "poll"
	SourceBackfill = "backfill"

	defaultBatchSize = 100
	maxBatchSize     = 5000
)

// LogSource is the read side of Client the poller needs.
type LogSource interface {
	ConfirmedBlockNumber(ctx context.Context) (int64, error)
	PoolLogs(ctx context.Context, from, to int64) ([]RawLog, error)
}

// Sink receives fetched logs; the ingestion orchestrator implements it.
type Sink interface {
	Ingest(ctx context.Context, network, source string, from, to int64, logs []RawLog) error
}

// Poller walks confirmed blocks of one network and feeds their pool logs into a Sink.
type Poller struct {
	network      *config.NetworkConfig
	source       LogSource
	blockRepo    *repository.BlockRepository
	sink         Sink
	isProcessing int32
}

func NewPoller(network *config.NetworkConfig, source LogSource, blockRepo *repository.BlockRepository, sink Sink) *Poller {
	return &Poller{
		network:   network,
		source:    source,
		blockRepo: blockRepo,
		sink:      sink,
	}
}

func (p *Poller) Network() string {
	return p.network.Name
}

func (p *Poller) IsProcessing() bool {
	return atomic.LoadInt32(&p.isProcessing) == 1
}

func (p *Poller) batchSize() int64 {
	size := int64(p.network.BatchSize)
	if size <= 0 {
		size = defaultBatchSize
	}
	if size > maxBatchSize {
		size = maxBatchSize
	}
	return size
}

// PollOnce ingests the next range of confirmed blocks after the stored cursor.
// A call that overlaps a running one returns immediately.
func (p *Poller) PollOnce(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.isProcessing, 0, 1) {
		logger.WithFields(map[string]interface{}{
			"network": p.network.Name,
		}).Warn("previous poll still running, skipping")
		return nil
	}
	defer atomic.StoreInt32(&p.isProcessing, 0)

	lastBlock, err := p.blockRepo.GetLastProcessed(ctx, p.network.Name)
	if err != nil {
		return err
	}

	confirmed, err := p.source.ConfirmedBlockNumber(ctx)
	if err != nil {
		return err
	}

	start := lastBlock + 1
	if lastBlock == 0 && p.network.StartBlock > 0 {
		start = p.network.StartBlock
	}
	if confirmed < start {
		return nil
	}

	end := confirmed
	if end-start >= p.batchSize() {
		end = start + p.batchSize() - 1
	}

	logger.WithFields(map[string]interface{}{
		"network":         p.network.Name,
		"start_block":     start,
		"end_block":       end,
		"confirmed_block": confirmed,
	}).Info("polling pool logs")

	if err := p.ingestRange(ctx, SourcePoll, start, end); err != nil {
		return err
	}
	return p.blockRepo.MarkProcessed(ctx, p.network.Name, end)
}

// Backfill re-ingests [from, to] in batch-size chunks without moving the cursor.
func (p *Poller) Backfill(ctx context.Context, from, to int64) error {
	if from < 0 || to < from {
		return errors.New(errors.ErrInvalidInput,
			fmt.Sprintf("invalid block range %d-%d", from, to), nil)
	}

	for start := from; start <= to; start += p.batchSize() {
		end := start + p.batchSize() - 1
		if end > to {
			end = to
		}
		if err := p.ingestRange(ctx, SourceBackfill, start, end); err != nil {
			return err
		}
	}

	logger.WithFields(map[string]interface{}{
		"network":    p.network.Name,
		"from_block": from,
		"to_block":   to,
	}).Info("backfill finished")
	return nil
}

func (p *Poller) ingestRange(ctx context.Context, source string, from, to int64) error {
	logs, err := p.source.PoolLogs(ctx, from, to)
	if err != nil {
		return err
	}
	return p.sink.Ingest(ctx, p.network.Name, source, from, to, logs)
}
