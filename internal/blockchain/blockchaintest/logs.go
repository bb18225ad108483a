// Package blockchaintest builds ABI-encoded pool logs for tests.
package blockchaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blocklive/stagefun-sub002/internal/blockchain"
)

// TxHash derives a deterministic transaction hash from a label.
func TxHash(label string) string {
	return common.BytesToHash([]byte(label)).Hex()
}

func addressTopic(addr common.Address) string {
	return common.BytesToHash(addr.Bytes()).Hex()
}

func pack(event string, args ...interface{}) string {
	e := blockchain.PoolEvents().Events[event]
	data, err := e.Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", event, err))
	}
	return hexutil.Encode(data)
}

type PoolCreatedArgs struct {
	Factory  common.Address
	Pool     common.Address
	Creator  common.Address
	Name     string
	UniqueID string
	Target   *big.Int
	Cap      *big.Int
	EndTime  int64
	Currency common.Address
}

func PoolCreated(a PoolCreatedArgs, txHash string, block, index uint64) blockchain.RawLog {
	if a.Target == nil {
		a.Target = big.NewInt(0)
	}
	if a.Cap == nil {
		a.Cap = big.NewInt(0)
	}
	return blockchain.RawLog{
		Address: a.Factory.Hex(),
		Topics: []string{
			blockchain.TopicPoolCreated.Hex(),
			addressTopic(a.Pool),
			addressTopic(a.Creator),
		},
		Data:            pack("PoolCreated", a.Name, a.UniqueID, a.Target, a.Cap, big.NewInt(a.EndTime), a.Currency),
		BlockNumber:     blockchain.Quantity(block),
		TransactionHash: txHash,
		LogIndex:        blockchain.Quantity(index),
	}
}

func TierCommitted(pool, user common.Address, tierID, amount int64, txHash string, block, index uint64) blockchain.RawLog {
	return blockchain.RawLog{
		Address: pool.Hex(),
		Topics: []string{
			blockchain.TopicTierCommitted.Hex(),
			addressTopic(user),
			common.BigToHash(big.NewInt(tierID)).Hex(),
		},
		Data:            pack("TierCommitted", big.NewInt(amount)),
		BlockNumber:     blockchain.Quantity(block),
		TransactionHash: txHash,
		LogIndex:        blockchain.Quantity(index),
	}
}

func PoolStatusUpdated(pool common.Address, status uint8, txHash string, block, index uint64) blockchain.RawLog {
	return blockchain.RawLog{
		Address:         pool.Hex(),
		Topics:          []string{blockchain.TopicPoolStatusUpdated.Hex()},
		Data:            pack("PoolStatusUpdated", status),
		BlockNumber:     blockchain.Quantity(block),
		TransactionHash: txHash,
		LogIndex:        blockchain.Quantity(index),
	}
}

// Removed returns a copy of l flagged as reorged out.
func Removed(l blockchain.RawLog) blockchain.RawLog {
	l.Removed = true
	return l
}

// OverwriteData returns a copy of l with b written into its data at byte offset.
func OverwriteData(l blockchain.RawLog, offset int, b []byte) blockchain.RawLog {
	data := hexutil.MustDecode(l.Data)
	copy(data[offset:], b)
	l.Data = hexutil.Encode(data)
	return l
}
