package blockchain_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
	"github.com/blocklive/stagefun-sub002/internal/blockchain/blockchaintest"
)

var (
	factory  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	pool     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	user     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	currency = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

func parse(t *testing.T, raw blockchain.RawLog) *blockchain.Log {
	t.Helper()
	log, err := blockchain.ParseRawLog("base", raw)
	require.NoError(t, err)
	return log
}

func TestDecodePoolCreated(t *testing.T) {
	raw := blockchaintest.PoolCreated(blockchaintest.PoolCreatedArgs{
		Factory:  factory,
		Pool:     pool,
		Creator:  creator,
		Name:     "Summer Tour",
		UniqueID: "tour-2024",
		Target:   big.NewInt(10_000_000),
		Cap:      big.NewInt(20_000_000),
		EndTime:  1_700_000_000,
		Currency: currency,
	}, blockchaintest.TxHash("create"), 10, 0)

	event, err := blockchain.NewDecoder().Decode(parse(t, raw))
	require.NoError(t, err)

	assert.Equal(t, blockchain.KindPoolCreated, event.Kind)
	assert.Equal(t, "abi", event.Strategy)
	require.NotNil(t, event.PoolCreated)
	assert.Equal(t, pool, event.PoolCreated.Pool)
	assert.Equal(t, creator, event.PoolCreated.Creator)
	assert.Equal(t, "Summer Tour", event.PoolCreated.Name)
	assert.Equal(t, "tour-2024", event.PoolCreated.UniqueID)
	assert.Equal(t, int64(10_000_000), event.PoolCreated.TargetAmount.Int64())
	assert.Equal(t, int64(20_000_000), event.PoolCreated.CapAmount.Int64())
	assert.Equal(t, int64(1_700_000_000), event.PoolCreated.EndTime.Int64())
	assert.Equal(t, currency, event.PoolCreated.Currency)
	assert.Equal(t, pool, event.PoolAddress())
}

func TestDecodeTierCommitted(t *testing.T) {
	raw := blockchaintest.TierCommitted(pool, user, 2, 5_000_000, blockchaintest.TxHash("commit"), 11, 1)

	event, err := blockchain.NewDecoder().Decode(parse(t, raw))
	require.NoError(t, err)

	require.NotNil(t, event.TierCommitted)
	assert.Equal(t, pool, event.TierCommitted.Pool)
	assert.Equal(t, user, event.TierCommitted.User)
	assert.Equal(t, int64(2), event.TierCommitted.TierID.Int64())
	assert.Equal(t, int64(5_000_000), event.TierCommitted.Amount.Int64())
}

func TestDecodePoolStatusUpdated(t *testing.T) {
	raw := blockchaintest.PoolStatusUpdated(pool, 7, blockchaintest.TxHash("status"), 12, 0)

	event, err := blockchain.NewDecoder().Decode(parse(t, raw))
	require.NoError(t, err)

	require.NotNil(t, event.PoolStatusUpdated)
	assert.Equal(t, pool, event.PoolStatusUpdated.Pool)
	assert.Equal(t, uint8(7), event.PoolStatusUpdated.Status)
}

func TestDecodeFallsBackToOffsets(t *testing.T) {
	// tierId in data instead of a topic: the ABI layout rejects it.
	data := append(common.BigToHash(big.NewInt(3)).Bytes(), common.BigToHash(big.NewInt(750)).Bytes()...)
	raw := blockchain.RawLog{
		Address: pool.Hex(),
		Topics: []string{
			blockchain.TopicTierCommitted.Hex(),
			common.BytesToHash(user.Bytes()).Hex(),
		},
		Data:            hexutil.Encode(data),
		TransactionHash: blockchaintest.TxHash("legacy"),
	}

	event, err := blockchain.NewDecoder().Decode(parse(t, raw))
	require.NoError(t, err)

	assert.Equal(t, "offsets", event.Strategy)
	assert.Equal(t, user, event.TierCommitted.User)
	assert.Equal(t, int64(3), event.TierCommitted.TierID.Int64())
	assert.Equal(t, int64(750), event.TierCommitted.Amount.Int64())
}

func TestOffsetStrategyMatchesABI(t *testing.T) {
	raws := []blockchain.RawLog{
		blockchaintest.PoolCreated(blockchaintest.PoolCreatedArgs{
			Factory:  factory,
			Pool:     pool,
			Creator:  creator,
			Name:     "a name longer than thirty-two bytes to span two words",
			UniqueID: "id",
			Target:   big.NewInt(1),
			Cap:      big.NewInt(2),
			EndTime:  3,
			Currency: currency,
		}, blockchaintest.TxHash("create"), 1, 0),
		blockchaintest.TierCommitted(pool, user, 1, 42, blockchaintest.TxHash("commit"), 1, 1),
		blockchaintest.PoolStatusUpdated(pool, 4, blockchaintest.TxHash("status"), 1, 2),
	}

	for _, raw := range raws {
		log := parse(t, raw)
		schema := blockchain.SchemaFor(log.Topic0())
		require.NotNil(t, schema)

		viaABI, err := blockchain.ABIStrategy{}.Decode(schema, log)
		require.NoError(t, err)
		viaOffsets, err := blockchain.OffsetStrategy{}.Decode(schema, log)
		require.NoError(t, err)

		assert.Equal(t, viaABI, viaOffsets, schema.Kind.String())
	}
}

func TestDecodeUnknownTopic(t *testing.T) {
	raw := blockchain.RawLog{
		Address:         pool.Hex(),
		Topics:          []string{common.HexToHash("0xdeadbeef").Hex()},
		TransactionHash: blockchaintest.TxHash("other"),
	}

	_, err := blockchain.NewDecoder().Decode(parse(t, raw))
	assert.ErrorIs(t, err, blockchain.ErrUnknownTopic)
}

func TestDecodeErrorListsEveryStrategy(t *testing.T) {
	raw := blockchain.RawLog{
		Address:         pool.Hex(),
		Topics:          []string{blockchain.TopicPoolStatusUpdated.Hex()},
		Data:            hexutil.Encode(common.BigToHash(big.NewInt(300)).Bytes()),
		TransactionHash: blockchaintest.TxHash("bad-status"),
	}

	_, err := blockchain.NewDecoder().Decode(parse(t, raw))
	require.Error(t, err)

	var decodeErr *blockchain.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, blockchain.KindPoolStatusUpdated, decodeErr.Kind)
	assert.Len(t, decodeErr.Attempts, 2)
	assert.Contains(t, err.Error(), "out of range")
}

func TestDecodeTruncatedData(t *testing.T) {
	raw := blockchaintest.TierCommitted(pool, user, 1, 42, blockchaintest.TxHash("commit"), 1, 1)
	raw.Data = "0x"

	_, err := blockchain.NewDecoder().Decode(parse(t, raw))
	var decodeErr *blockchain.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func hostilePoolCreated(t *testing.T) blockchain.RawLog {
	t.Helper()
	return blockchaintest.PoolCreated(blockchaintest.PoolCreatedArgs{
		Factory:  factory,
		Pool:     pool,
		Creator:  creator,
		Name:     "Summer Tour",
		UniqueID: "tour-2024",
		Currency: currency,
	}, blockchaintest.TxHash("hostile"), 1, 0)
}

func TestDecodeRejectsOverflowingOffsets(t *testing.T) {
	ff := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	cases := map[string]blockchain.RawLog{
		// name head word = 2^64 - 16
		"string head": blockchaintest.OverwriteData(hostilePoolCreated(t), 24,
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xf0}),
		// name length word at 0xc0 = 2^64 - 1
		"string length": blockchaintest.OverwriteData(hostilePoolCreated(t), 0xc0+24, ff),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			log := parse(t, raw)

			var err error
			require.NotPanics(t, func() {
				_, err = blockchain.OffsetStrategy{}.Decode(blockchain.SchemaFor(blockchain.TopicPoolCreated), log)
			})
			assert.Error(t, err)

			require.NotPanics(t, func() {
				_, err = blockchain.NewDecoder().Decode(log)
			})
			var decodeErr *blockchain.DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Len(t, decodeErr.Attempts, 2)
		})
	}
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "broken" }

func (panickingStrategy) Decode(*blockchain.Schema, *blockchain.Log) (*blockchain.DecodedEvent, error) {
	panic("index out of range")
}

func TestDecodeRecoversStrategyPanic(t *testing.T) {
	log := parse(t, blockchaintest.TierCommitted(pool, user, 1, 42, blockchaintest.TxHash("commit"), 1, 1))

	event, err := blockchain.NewDecoder(panickingStrategy{}, blockchain.OffsetStrategy{}).Decode(log)
	require.NoError(t, err)
	assert.Equal(t, "offsets", event.Strategy)
	assert.Equal(t, int64(42), event.TierCommitted.Amount.Int64())

	_, err = blockchain.NewDecoder(panickingStrategy{}).Decode(log)
	var decodeErr *blockchain.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "broken: panic: index out of range")
}
