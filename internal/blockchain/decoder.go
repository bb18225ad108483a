package blockchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ErrUnknownTopic is returned for logs whose topic0 has no registered schema.
var ErrUnknownTopic = errors.New("unknown event topic")

// DecodeError means a known topic could not be decoded by any strategy.
type DecodeError struct {
	Kind     EventKind
	Attempts []error
}

func (e *DecodeError) Error() string {
	msgs := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("decode %s: %s", e.Kind, strings.Join(msgs, "; "))
}

// Strategy turns a log of a known schema into a typed event.
type Strategy interface {
	Name() string
	Decode(schema *Schema, log *Log) (*DecodedEvent, error)
}

// Decoder tries its strategies in order and returns the first success.
type Decoder struct {
	strategies []Strategy
}

// NewDecoder defaults to ABI decoding with the fixed-offset reader as fallback.
func NewDecoder(strategies ...Strategy) *Decoder {
	if len(strategies) == 0 {
		strategies = []Strategy{ABIStrategy{}, OffsetStrategy{}}
	}
	return &Decoder{strategies: strategies}
}

func (d *Decoder) Decode(log *Log) (*DecodedEvent, error) {
	schema := SchemaFor(log.Topic0())
	if schema == nil {
		return nil, ErrUnknownTopic
	}

	var attempts []error
	for _, s := range d.strategies {
		event, err := decodeWith(s, schema, log)
		if err == nil {
			event.Strategy = s.Name()
			return event, nil
		}
		attempts = append(attempts, errors.Wrap(err, s.Name()))
	}
	return nil, &DecodeError{Kind: schema.Kind, Attempts: attempts}
}

// decodeWith turns a strategy panic on hostile input into an ordinary attempt failure.
func decodeWith(s Strategy, schema *Schema, log *Log) (event *DecodedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			event, err = nil, errors.Errorf("panic: %v", r)
		}
	}()
	return s.Decode(schema, log)
}

// ABIStrategy decodes with the contract ABI: indexed fields from topics, the rest from data.
type ABIStrategy struct{}

func (ABIStrategy) Name() string { return "abi" }

func (ABIStrategy) Decode(schema *Schema, log *Log) (*DecodedEvent, error) {
	var indexed abi.Arguments
	for _, arg := range schema.Event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, errors.Errorf("want %d indexed topics, got %d", len(indexed), len(log.Topics)-1)
	}

	fields := make(map[string]interface{})
	if err := schema.Event.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
		return nil, err
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, err
	}

	f := fieldReader{fields: fields}
	event := &DecodedEvent{Kind: schema.Kind, Log: log}
	switch schema.Kind {
	case KindPoolCreated:
		event.PoolCreated = &PoolCreated{
			Pool:         f.address("pool"),
			Creator:      f.address("creator"),
			Name:         f.string("name"),
			UniqueID:     f.string("uniqueId"),
			TargetAmount: f.bigInt("targetAmount"),
			CapAmount:    f.bigInt("capAmount"),
			EndTime:      f.bigInt("endTime"),
			Currency:     f.address("currency"),
		}
	case KindTierCommitted:
		event.TierCommitted = &TierCommitted{
			Pool:   log.Address,
			User:   f.address("user"),
			TierID: f.bigInt("tierId"),
			Amount: f.bigInt("amount"),
		}
	case KindPoolStatusUpdated:
		event.PoolStatusUpdated = &PoolStatusUpdated{
			Pool:   log.Address,
			Status: f.uint8("status"),
		}
	default:
		return nil, errors.Errorf("no builder for %s", schema.Kind)
	}
	if f.err != nil {
		return nil, f.err
	}
	return event, nil
}

type fieldReader struct {
	fields map[string]interface{}
	err    error
}

func (f *fieldReader) fail(name, want string) {
	if f.err == nil {
		f.err = errors.Errorf("field %s: want %s, got %T", name, want, f.fields[name])
	}
}

func (f *fieldReader) address(name string) common.Address {
	v, ok := f.fields[name].(common.Address)
	if !ok {
		f.fail(name, "address")
	}
	return v
}

func (f *fieldReader) string(name string) string {
	v, ok := f.fields[name].(string)
	if !ok {
		f.fail(name, "string")
	}
	return v
}

func (f *fieldReader) bigInt(name string) *big.Int {
	v, ok := f.fields[name].(*big.Int)
	if !ok {
		f.fail(name, "uint256")
		return new(big.Int)
	}
	return v
}

func (f *fieldReader) uint8(name string) uint8 {
	v, ok := f.fields[name].(uint8)
	if !ok {
		f.fail(name, "uint8")
	}
	return v
}

// OffsetStrategy reads fields straight from 32-byte words. It accepts layouts the ABI
// strategy rejects: a TierCommitted whose tierId was not indexed, and status codes
// encoded as full-width integers.
type OffsetStrategy struct{}

func (OffsetStrategy) Name() string { return "offsets" }

const wordSize = 32

func word(data []byte, i int) ([]byte, error) {
	start := i * wordSize
	if start+wordSize > len(data) {
		return nil, errors.Errorf("data too short for word %d (%d bytes)", i, len(data))
	}
	return data[start : start+wordSize], nil
}

func wordAt(data []byte, offset uint64) ([]byte, error) {
	if len(data) < wordSize || offset > uint64(len(data)-wordSize) {
		return nil, errors.Errorf("offset %d out of range (%d bytes)", offset, len(data))
	}
	return data[offset : offset+wordSize], nil
}

func readString(data []byte, headIndex int) (string, error) {
	head, err := word(data, headIndex)
	if err != nil {
		return "", err
	}
	offset := new(big.Int).SetBytes(head)
	if !offset.IsUint64() {
		return "", errors.Errorf("string offset overflows")
	}
	lengthWord, err := wordAt(data, offset.Uint64())
	if err != nil {
		return "", err
	}
	length := new(big.Int).SetBytes(lengthWord)
	start := offset.Uint64() + wordSize
	if !length.IsUint64() || length.Uint64() > uint64(len(data))-start {
		return "", errors.Errorf("string length out of range")
	}
	return string(data[start : start+length.Uint64()]), nil
}

func topicAddress(log *Log, i int) (common.Address, error) {
	if len(log.Topics) <= i {
		return common.Address{}, errors.Errorf("missing topic %d", i)
	}
	return common.BytesToAddress(log.Topics[i].Bytes()), nil
}

func (OffsetStrategy) Decode(schema *Schema, log *Log) (*DecodedEvent, error) {
	event := &DecodedEvent{Kind: schema.Kind, Log: log}

	switch schema.Kind {
	case KindPoolCreated:
		pool, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		creator, err := topicAddress(log, 2)
		if err != nil {
			return nil, err
		}
		name, err := readString(log.Data, 0)
		if err != nil {
			return nil, errors.Wrap(err, "name")
		}
		uniqueID, err := readString(log.Data, 1)
		if err != nil {
			return nil, errors.Wrap(err, "uniqueId")
		}
		words := make([][]byte, 4)
		for i := range words {
			if words[i], err = word(log.Data, i+2); err != nil {
				return nil, err
			}
		}
		event.PoolCreated = &PoolCreated{
			Pool:         pool,
			Creator:      creator,
			Name:         name,
			UniqueID:     uniqueID,
			TargetAmount: new(big.Int).SetBytes(words[0]),
			CapAmount:    new(big.Int).SetBytes(words[1]),
			EndTime:      new(big.Int).SetBytes(words[2]),
			Currency:     common.BytesToAddress(words[3]),
		}

	case KindTierCommitted:
		user, err := topicAddress(log, 1)
		if err != nil {
			return nil, err
		}
		var tierID, amount *big.Int
		switch len(log.Topics) {
		case 3:
			w, err := word(log.Data, 0)
			if err != nil {
				return nil, err
			}
			tierID = new(big.Int).SetBytes(log.Topics[2].Bytes())
			amount = new(big.Int).SetBytes(w)
		case 2:
			tw, err := word(log.Data, 0)
			if err != nil {
				return nil, err
			}
			aw, err := word(log.Data, 1)
			if err != nil {
				return nil, err
			}
			tierID = new(big.Int).SetBytes(tw)
			amount = new(big.Int).SetBytes(aw)
		default:
			return nil, errors.Errorf("unexpected topic count %d", len(log.Topics))
		}
		event.TierCommitted = &TierCommitted{
			Pool:   log.Address,
			User:   user,
			TierID: tierID,
			Amount: amount,
		}

	case KindPoolStatusUpdated:
		w, err := word(log.Data, 0)
		if err != nil {
			return nil, err
		}
		code := new(big.Int).SetBytes(w)
		if !code.IsUint64() || code.Uint64() > 255 {
			return nil, errors.Errorf("status code %s out of range", code)
		}
		event.PoolStatusUpdated = &PoolStatusUpdated{
			Pool:   log.Address,
			Status: uint8(code.Uint64()),
		}

	default:
		return nil, errors.Errorf("no reader for %s", schema.Kind)
	}
	return event, nil
}
