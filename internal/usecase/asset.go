package usecase

import (
	"context"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
)

type AssetUsecase struct {
	store RecordStore
}

func NewAssetUsecase(store RecordStore) *AssetUsecase {
	return &AssetUsecase{store: store}
}

// Ping reports store reachability, for the liveness endpoint.
func (uc *AssetUsecase) Ping(ctx context.Context) error {
	return uc.store.Ping(ctx)
}

func (uc *AssetUsecase) Get(ctx context.Context, did string) (*aquarius.Record, error) {
	return uc.store.Get(ctx, did)
}

// ListDIDs returns the IDs of every listed asset.
func (uc *AssetUsecase) ListDIDs(ctx context.Context) ([]string, error) {
	records, err := uc.store.GetAllListed(ctx)
	if err != nil {
		return nil, err
	}
	dids := make([]string, 0, len(records))
	for i := range records {
		dids = append(dids, records[i].ID)
	}
	return dids, nil
}

func (uc *AssetUsecase) ListAll(ctx context.Context) ([]aquarius.Record, error) {
	return uc.store.GetAllListed(ctx)
}

// GetMetadata returns the metadata service entry of a record.
func (uc *AssetUsecase) GetMetadata(ctx context.Context, did string) (*aquarius.Service, error) {
	rec, err := uc.store.Get(ctx, did)
	if err != nil {
		return nil, err
	}
	meta := aquarius.MetadataService(rec.Service)
	if meta == nil {
		return nil, domain.NotFoundError{Resource: did + " metadata"}
	}
	return meta, nil
}

func (uc *AssetUsecase) Query(ctx context.Context, q aquarius.QuerySpec) (aquarius.QueryResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 100
	}
	return uc.store.Query(ctx, q)
}
