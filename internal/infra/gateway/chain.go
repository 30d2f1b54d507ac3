package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/patrickmn/go-cache"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
)

// metadataABI is the event surface of the on-chain metadata registry.
const metadataABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"dataToken","type":"address"},
		{"indexed":true,"name":"createdBy","type":"address"},
		{"indexed":false,"name":"flags","type":"bytes"},
		{"indexed":false,"name":"data","type":"bytes"}],
	 "name":"MetadataCreated","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"dataToken","type":"address"},
		{"indexed":true,"name":"updatedBy","type":"address"},
		{"indexed":false,"name":"flags","type":"bytes"},
		{"indexed":false,"name":"data","type":"bytes"}],
	 "name":"MetadataUpdated","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"dataToken","type":"address"},
		{"indexed":true,"name":"retiredBy","type":"address"}],
	 "name":"MetadataRetired","type":"event"}
]`

const latestBlockCacheKey = "chain:latestBlock"

// ChainGateway reads metadata registry events from an EVM endpoint.
type ChainGateway struct {
	client   *ethclient.Client
	contract common.Address
	parsed   abi.ABI
	timeout  time.Duration
	cache    *cache.Cache

	createdID common.Hash
	updatedID common.Hash
	retiredID common.Hash
}

func NewChainGateway(rpcEndpoint string, contract string, timeout time.Duration) (*ChainGateway, error) {
	client, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(metadataABI))
	if err != nil {
		return nil, err
	}

	return &ChainGateway{
		client:    client,
		contract:  common.HexToAddress(contract),
		parsed:    parsed,
		timeout:   timeout,
		cache:     cache.New(5*time.Second, time.Minute),
		createdID: parsed.Events["MetadataCreated"].ID,
		updatedID: parsed.Events["MetadataUpdated"].ID,
		retiredID: parsed.Events["MetadataRetired"].ID,
	}, nil
}

// EventsSince returns every registry event for token strictly newer
// than after, ordered by block number then log index.
func (g *ChainGateway) EventsSince(ctx context.Context, token string, after aquarius.EventPoint) ([]aquarius.MetadataEvent, error) {
	if !common.IsHexAddress(token) {
		return nil, domain.InvalidRecordError{Reason: fmt.Sprintf("bad token address %q", token)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(after.Block),
		Addresses: []common.Address{g.contract},
		Topics: [][]common.Hash{
			{g.createdID, g.updatedID, g.retiredID},
			{common.BytesToHash(common.HexToAddress(token).Bytes())},
		},
	}

	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, domain.TransientError{Op: "chain filter logs", Err: err}
	}

	events := make([]aquarius.MetadataEvent, 0, len(logs))
	for i := range logs {
		ev, err := g.decode(&logs[i])
		if err != nil {
			continue
		}
		if !ev.Point.After(after) {
			continue
		}
		events = append(events, *ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[j].Point.After(events[i].Point)
	})

	return events, nil
}

// AllEventsSince scans the registry for every token, used by the
// monitor's ingestion pass.
func (g *ChainGateway) AllEventsSince(ctx context.Context, fromBlock uint64) ([]aquarius.MetadataEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{g.contract},
		Topics: [][]common.Hash{
			{g.createdID, g.updatedID, g.retiredID},
		},
	}

	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, domain.TransientError{Op: "chain filter logs", Err: err}
	}

	events := make([]aquarius.MetadataEvent, 0, len(logs))
	for i := range logs {
		ev, err := g.decode(&logs[i])
		if err != nil {
			continue
		}
		events = append(events, *ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[j].Point.After(events[i].Point)
	})

	return events, nil
}

func (g *ChainGateway) LatestBlock(ctx context.Context) (uint64, error) {
	if v, ok := g.cache.Get(latestBlockCacheKey); ok {
		return v.(uint64), nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, domain.TransientError{Op: "chain block number", Err: err}
	}

	g.cache.SetDefault(latestBlockCacheKey, n)
	return n, nil
}

func (g *ChainGateway) decode(l *types.Log) (*aquarius.MetadataEvent, error) {
	if len(l.Topics) < 2 {
		return nil, fmt.Errorf("log missing topics")
	}

	ev := aquarius.MetadataEvent{
		DataToken: common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		Point: aquarius.EventPoint{
			Block:    l.BlockNumber,
			TxIndex:  l.TxIndex,
			LogIndex: l.Index,
		},
	}

	switch l.Topics[0] {
	case g.createdID:
		ev.Type = aquarius.EventMetadataCreated
	case g.updatedID:
		ev.Type = aquarius.EventMetadataUpdated
	case g.retiredID:
		ev.Type = aquarius.EventMetadataRetired
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown event topic %s", l.Topics[0])
	}

	name := string(ev.Type)
	unpacked, err := g.parsed.Unpack(name, l.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
	}
	// args: flags, data
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("unexpected %s arity %d", name, len(unpacked))
	}
	data, ok := unpacked[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected %s payload type", name)
	}
	ev.Payload = data

	return &ev, nil
}
