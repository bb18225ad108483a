package blockchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Quantity accepts a JSON number, a decimal string or a 0x-prefixed hex string.
type Quantity uint64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseQuantity(s)
		if err != nil {
			return err
		}
		*q = Quantity(v)
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %s: %w", data, err)
	}
	*q = Quantity(v)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.EncodeUint64(uint64(q)))
}

func ParseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// hexutil rejects leading zeros, which some webhook providers emit.
		trimmed := strings.TrimLeft(s[2:], "0")
		if trimmed == "" {
			return 0, nil
		}
		return hexutil.DecodeUint64("0x" + trimmed)
	}
	return strconv.ParseUint(s, 10, 64)
}

// RawLog is a log record as delivered by the webhook or log-stream provider.
type RawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     Quantity `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        Quantity `json:"logIndex"`
	Removed         bool     `json:"removed"`
}

// Log is a validated RawLog.
type Log struct {
	Network     string
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// Topic0 is the event signature hash, zero for anonymous logs.
func (l *Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

func parseHash(s, field string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid %s %q: want %d bytes, got %d", field, s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseRawLog validates raw and normalises it into a Log.
func ParseRawLog(network string, raw RawLog) (*Log, error) {
	if !common.IsHexAddress(raw.Address) {
		return nil, fmt.Errorf("invalid address %q", raw.Address)
	}
	txHash, err := parseHash(raw.TransactionHash, "transaction hash")
	if err != nil {
		return nil, err
	}

	topics := make([]common.Hash, 0, len(raw.Topics))
	for _, t := range raw.Topics {
		h, err := parseHash(t, "topic")
		if err != nil {
			return nil, err
		}
		topics = append(topics, h)
	}

	var data []byte
	if raw.Data != "" && raw.Data != "0x" {
		data, err = hexutil.Decode(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}

	return &Log{
		Network:     network,
		Address:     common.HexToAddress(raw.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: uint64(raw.BlockNumber),
		TxHash:      txHash,
		LogIndex:    uint(raw.LogIndex),
		Removed:     raw.Removed,
	}, nil
}

// RawLogFromTypes converts a node log into the ingestion shape.
func RawLogFromTypes(l types.Log) RawLog {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return RawLog{
		Address:         l.Address.Hex(),
		Topics:          topics,
		Data:            hexutil.Encode(l.Data),
		BlockNumber:     Quantity(l.BlockNumber),
		TransactionHash: l.TxHash.Hex(),
		LogIndex:        Quantity(l.Index),
		Removed:         l.Removed,
	}
}
