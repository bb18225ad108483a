package blockchain

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/database"
	"github.com/blocklive/stagefun-sub002/internal/repository"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
)

type fakeSource struct {
	confirmed int64
	err       error
	ranges    [][2]int64
}

func (s *fakeSource) ConfirmedBlockNumber(ctx context.Context) (int64, error) {
	return s.confirmed, s.err
}

func (s *fakeSource) PoolLogs(ctx context.Context, from, to int64) ([]RawLog, error) {
	s.ranges = append(s.ranges, [2]int64{from, to})
	return []RawLog{{Address: fmt.Sprintf("%d-%d", from, to)}}, nil
}

type ingestCall struct {
	network, source string
	from, to        int64
	logs            int
}

type recordingSink struct {
	mu    sync.Mutex
	calls []ingestCall
	err   error
}

func (s *recordingSink) Ingest(ctx context.Context, network, source string, from, to int64, logs []RawLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ingestCall{network: network, source: source, from: from, to: to, logs: len(logs)})
	return s.err
}

func newTestPoller(t *testing.T, network config.NetworkConfig, source LogSource, sink Sink) (*Poller, *repository.BlockRepository) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	blockRepo := repository.NewBlockRepository(db)
	return NewPoller(&network, source, blockRepo, sink), blockRepo
}

func TestPollOnceStartsAtConfiguredBlock(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{confirmed: 150}
	sink := &recordingSink{}
	poller, blockRepo := newTestPoller(t, config.NetworkConfig{Name: "base", StartBlock: 100, BatchSize: 20}, source, sink)

	require.NoError(t, poller.PollOnce(ctx))

	require.Len(t, sink.calls, 1)
	assert.Equal(t, ingestCall{network: "base", source: SourcePoll, from: 100, to: 119, logs: 1}, sink.calls[0])

	cursor, err := blockRepo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(119), cursor)

	require.NoError(t, poller.PollOnce(ctx))
	assert.Equal(t, int64(120), sink.calls[1].from)
	assert.Equal(t, int64(139), sink.calls[1].to)
}

func TestPollOnceStopsAtConfirmedHead(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{confirmed: 105}
	sink := &recordingSink{}
	poller, blockRepo := newTestPoller(t, config.NetworkConfig{Name: "base", StartBlock: 100}, source, sink)

	require.NoError(t, poller.PollOnce(ctx))
	require.Len(t, sink.calls, 1)
	assert.Equal(t, int64(105), sink.calls[0].to)

	// nothing new confirmed
	require.NoError(t, poller.PollOnce(ctx))
	assert.Len(t, sink.calls, 1)

	cursor, err := blockRepo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(105), cursor)
}

func TestPollOnceKeepsCursorWhenSinkFails(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{confirmed: 10}
	sink := &recordingSink{err: fmt.Errorf("store down")}
	poller, blockRepo := newTestPoller(t, config.NetworkConfig{Name: "base"}, source, sink)

	assert.Error(t, poller.PollOnce(ctx))

	cursor, err := blockRepo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
	assert.False(t, poller.IsProcessing())
}

func TestPollOnceSkipsWhileRunning(t *testing.T) {
	source := &fakeSource{confirmed: 10}
	sink := &recordingSink{}
	poller, _ := newTestPoller(t, config.NetworkConfig{Name: "base"}, source, sink)

	poller.isProcessing = 1
	require.NoError(t, poller.PollOnce(context.Background()))
	assert.Empty(t, sink.calls)
}

func TestBackfillChunksRange(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{}
	sink := &recordingSink{}
	poller, blockRepo := newTestPoller(t, config.NetworkConfig{Name: "base", BatchSize: 10}, source, sink)

	require.NoError(t, poller.Backfill(ctx, 5, 27))

	assert.Equal(t, [][2]int64{{5, 14}, {15, 24}, {25, 27}}, source.ranges)
	for _, call := range sink.calls {
		assert.Equal(t, SourceBackfill, call.source)
	}

	cursor, err := blockRepo.GetLastProcessed(ctx, "base")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor, "backfill must not move the cursor")
}

func TestBackfillRejectsInvalidRange(t *testing.T) {
	poller, _ := newTestPoller(t, config.NetworkConfig{Name: "base"}, &fakeSource{}, &recordingSink{})

	err := poller.Backfill(context.Background(), 20, 10)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}
