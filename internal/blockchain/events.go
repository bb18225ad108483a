package blockchain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// PoolEventsABI describes the three pool lifecycle events the pipeline ingests.
// PoolCreated is emitted by the factory; TierCommitted and PoolStatusUpdated by the pool itself.
const PoolEventsABI = `[
  {"type":"event","name":"PoolCreated","anonymous":false,"inputs":[
    {"name":"pool","type":"address","indexed":true},
    {"name":"creator","type":"address","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"uniqueId","type":"string","indexed":false},
    {"name":"targetAmount","type":"uint256","indexed":false},
    {"name":"capAmount","type":"uint256","indexed":false},
    {"name":"endTime","type":"uint256","indexed":false},
    {"name":"currency","type":"address","indexed":false}]},
  {"type":"event","name":"TierCommitted","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"tierId","type":"uint256","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"PoolStatusUpdated","anonymous":false,"inputs":[
    {"name":"status","type":"uint8","indexed":false}]}
]`

type EventKind int

const (
	KindUnknown EventKind = iota
	KindPoolCreated
	KindTierCommitted
	KindPoolStatusUpdated
)

func (k EventKind) String() string {
	switch k {
	case KindPoolCreated:
		return "PoolCreated"
	case KindTierCommitted:
		return "TierCommitted"
	case KindPoolStatusUpdated:
		return "PoolStatusUpdated"
	}
	return "Unknown"
}

// Schema binds a topic hash to the ABI event describing its field layout.
type Schema struct {
	Kind  EventKind
	Topic common.Hash
	Event abi.Event
}

var (
	poolEventsABI abi.ABI
	schemas       map[common.Hash]*Schema

	TopicPoolCreated       common.Hash
	TopicTierCommitted     common.Hash
	TopicPoolStatusUpdated common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(PoolEventsABI))
	if err != nil {
		panic("invalid pool events ABI: " + err.Error())
	}
	poolEventsABI = parsed

	kinds := map[string]EventKind{
		"PoolCreated":       KindPoolCreated,
		"TierCommitted":     KindTierCommitted,
		"PoolStatusUpdated": KindPoolStatusUpdated,
	}
	schemas = make(map[common.Hash]*Schema, len(kinds))
	for name, kind := range kinds {
		event := parsed.Events[name]
		schemas[event.ID] = &Schema{Kind: kind, Topic: event.ID, Event: event}
	}

	TopicPoolCreated = parsed.Events["PoolCreated"].ID
	TopicTierCommitted = parsed.Events["TierCommitted"].ID
	TopicPoolStatusUpdated = parsed.Events["PoolStatusUpdated"].ID
}

// PoolEvents returns the parsed ABI; tests use it to pack log data.
func PoolEvents() abi.ABI {
	return poolEventsABI
}

// SchemaFor returns the schema registered for topic, nil for unknown topics.
func SchemaFor(topic common.Hash) *Schema {
	return schemas[topic]
}

// Topics lists every registered topic, for log filters.
func Topics() []common.Hash {
	return []common.Hash{TopicPoolCreated, TopicTierCommitted, TopicPoolStatusUpdated}
}

type PoolCreated struct {
	Pool         common.Address
	Creator      common.Address
	Name         string
	UniqueID     string
	TargetAmount *big.Int
	CapAmount    *big.Int
	EndTime      *big.Int
	Currency     common.Address
}

// TierCommitted is emitted by the pool contract, so Pool is the log address.
type TierCommitted struct {
	Pool   common.Address
	User   common.Address
	TierID *big.Int
	Amount *big.Int
}

type PoolStatusUpdated struct {
	Pool   common.Address
	Status uint8
}

// DecodedEvent is a tagged union: exactly one payload field matching Kind is set.
type DecodedEvent struct {
	Kind     EventKind
	Log      *Log
	Strategy string

	PoolCreated       *PoolCreated
	TierCommitted     *TierCommitted
	PoolStatusUpdated *PoolStatusUpdated
}

// PoolAddress is the pool an event concerns; events for different pools are independent.
func (e *DecodedEvent) PoolAddress() common.Address {
	switch e.Kind {
	case KindPoolCreated:
		return e.PoolCreated.Pool
	case KindTierCommitted:
		return e.TierCommitted.Pool
	case KindPoolStatusUpdated:
		return e.PoolStatusUpdated.Pool
	}
	return e.Log.Address
}
