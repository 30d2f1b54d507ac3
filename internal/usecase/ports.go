package usecase

import (
	"context"

	"github.com/oceanprotocol/aquarius"
)

// RecordStore defines the two-index persistence operations. Put and
// delete are atomic per index only; nothing here spans both indices.
type RecordStore interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, did string) (*aquarius.Record, error)
	GetAllListed(ctx context.Context) ([]aquarius.Record, error)
	Query(ctx context.Context, q aquarius.QuerySpec) (aquarius.QueryResult, error)

	PutMain(ctx context.Context, rec *aquarius.Record) error
	DeleteMain(ctx context.Context, did string) error
	SetDirty(ctx context.Context, did string, dirty bool) error

	GetPlus(ctx context.Context, did string) (*aquarius.PlusRecord, error)
	PutPlus(ctx context.Context, plus *aquarius.PlusRecord) error
	DeletePlus(ctx context.Context, did string) error
}

// ChainEventSource yields decoded registry events in (block, logIndex)
// order.
type ChainEventSource interface {
	EventsSince(ctx context.Context, token string, after aquarius.EventPoint) ([]aquarius.MetadataEvent, error)
	AllEventsSince(ctx context.Context, fromBlock uint64) ([]aquarius.MetadataEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// AuthOracle recovers signer addresses and checks the updater
// allow-list.
type AuthOracle interface {
	RecoverSigner(address string, signature string) (string, error)
	IsPermittedUpdater(address string) bool
}

// SignalPublisher broadcasts index-change notifications. Implemented by
// the redis signal service.
type SignalPublisher interface {
	Publish(ctx context.Context, signal aquarius.Signal) error
}

// SignalStream additionally streams notifications back out, for the
// realtime endpoint.
type SignalStream interface {
	SignalPublisher
	Subscribe(ctx context.Context, out chan<- aquarius.Signal) error
}
