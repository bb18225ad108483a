package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/pkg/errors"
	"github.com/blocklive/stagefun-sub002/pkg/logger"
)

// Client reads pool logs from one network's JSON-RPC endpoint.
type Client struct {
	network *config.NetworkConfig
	client  *ethclient.Client
}

func NewClient(network *config.NetworkConfig) (*Client, error) {
	client, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		return nil, errors.New(errors.ErrRPConnect,
			fmt.Sprintf("dial rpc %s", network.RPCURL), err)
	}

	return &Client{
		network: network,
		client:  client,
	}, nil
}

func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) LatestBlockNumber(ctx context.Context) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.New(errors.ErrBlockFetch, "fetch latest header", err)
	}
	return header.Number.Int64(), nil
}

// ConfirmedBlockNumber is the head minus the configured confirmation depth.
func (c *Client) ConfirmedBlockNumber(ctx context.Context) (int64, error) {
	latest, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := latest - int64(c.network.ConfirmationBlocks)
	if confirmed < 0 {
		confirmed = 0
	}
	return confirmed, nil
}

// addresses narrows the filter to known contracts. Pools are deployed by the factory at
// runtime, so without an explicit pool list only the topics are filtered on.
func (c *Client) addresses() []common.Address {
	if len(c.network.PoolAddresses) == 0 {
		return nil
	}
	addrs := make([]common.Address, 0, len(c.network.PoolAddresses)+1)
	if c.network.FactoryAddress != "" {
		addrs = append(addrs, common.HexToAddress(c.network.FactoryAddress))
	}
	for _, a := range c.network.PoolAddresses {
		addrs = append(addrs, common.HexToAddress(a))
	}
	return addrs
}

// PoolLogs returns the pool lifecycle logs in [from, to] in the ingestion shape.
// RPC providers usually cap a single query at 10,000 blocks.
func (c *Client) PoolLogs(ctx context.Context, from, to int64) ([]RawLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: c.addresses(),
		Topics:    [][]common.Hash{Topics()},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.New(errors.ErrBlockFetch,
			fmt.Sprintf("filter logs %d-%d", from, to), err)
	}

	logger.WithFields(map[string]interface{}{
		"network":    c.network.Name,
		"from_block": from,
		"to_block":   to,
		"logs":       len(logs),
	}).Debug("fetched pool logs")

	raw := make([]RawLog, len(logs))
	for i, l := range logs {
		raw[i] = RawLogFromTypes(l)
	}
	return raw, nil
}
