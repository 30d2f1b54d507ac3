package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/zeebo/xxh3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/infra/database/models"
)

const cacheTTL = 60 // seconds

// AssetRepository implements the record store over the main and plus
// index tables. Writes are atomic per table only; cross-index
// sequencing is the updater's job.
type AssetRepository struct {
	db *gorm.DB
	mc *memcache.Client
}

func NewAssetRepository(db *gorm.DB, mc *memcache.Client) *AssetRepository {
	return &AssetRepository{db: db, mc: mc}
}

// memcache keys are capped at 250 bytes, so DIDs are hashed.
func cacheKey(did string) string {
	return fmt.Sprintf("aq:ddo:%016x", xxh3.HashString(did))
}

// cachedAsset is the memcache envelope. The record's own serialization
// excludes the repair marker, so the envelope carries it separately; a
// cache hit must be indistinguishable from a row read.
type cachedAsset struct {
	Record aquarius.Record `json:"record"`
	Dirty  bool            `json:"dirty"`
}

func (r *AssetRepository) Get(ctx context.Context, did string) (*aquarius.Record, error) {
	if r.mc != nil {
		if item, err := r.mc.Get(cacheKey(did)); err == nil {
			var entry cachedAsset
			if err := json.Unmarshal(item.Value, &entry); err == nil {
				rec := entry.Record
				rec.Dirty = entry.Dirty
				return &rec, nil
			}
		}
	}

	var row models.Asset
	err := r.db.WithContext(ctx).
		Where("did = ?", did).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NotFoundError{Resource: did}
		}
		return nil, domain.TransientError{Op: "store get", Err: err}
	}

	rec, err := fromModel(&row)
	if err != nil {
		return nil, err
	}

	if r.mc != nil {
		if b, err := json.Marshal(cachedAsset{Record: *rec, Dirty: rec.Dirty}); err == nil {
			_ = r.mc.Set(&memcache.Item{Key: cacheKey(did), Value: b, Expiration: cacheTTL})
		}
	}

	return rec, nil
}

// Ping verifies store connectivity.
func (r *AssetRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return domain.TransientError{Op: "store ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return domain.TransientError{Op: "store ping", Err: err}
	}
	return nil
}

// GetAllListed returns every record not excluded by store-side policy,
// i.e. everything outside purgatory.
func (r *AssetRepository) GetAllListed(ctx context.Context) ([]aquarius.Record, error) {
	var rows []models.Asset
	err := r.db.WithContext(ctx).
		Where("is_in_purgatory = ?", false).
		Order("c_date").
		Find(&rows).Error
	if err != nil {
		return nil, domain.TransientError{Op: "store list", Err: err}
	}

	records := make([]aquarius.Record, 0, len(rows))
	for i := range rows {
		rec, err := fromModel(&rows[i])
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (r *AssetRepository) Query(ctx context.Context, q aquarius.QuerySpec) (aquarius.QueryResult, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 100
	}

	tx := r.db.WithContext(ctx).Model(&models.Asset{})

	for _, term := range strings.Fields(q.Text) {
		if field, value, ok := strings.Cut(term, ":"); ok {
			if neg, isNeg := strings.CutPrefix(field, "-"); isNeg {
				if col, ok := filterColumn(neg); ok {
					tx = tx.Where(fmt.Sprintf("%s <> ?", col), value)
					continue
				}
			}
			if col, ok := filterColumn(field); ok {
				tx = tx.Where(fmt.Sprintf("%s = ?", col), value)
				continue
			}
		}
		tx = tx.Where("search_text ILIKE ?", "%"+term+"%")
	}

	for field, value := range q.Filters {
		col, ok := filterColumn(field)
		if !ok {
			return aquarius.QueryResult{}, fmt.Errorf("unknown filter field: %s", field)
		}
		tx = tx.Where(fmt.Sprintf("%s = ?", col), value)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return aquarius.QueryResult{}, domain.TransientError{Op: "store query", Err: err}
	}

	ordered := false
	for field, dir := range q.Sort {
		col, ok := sortColumn(field)
		if !ok {
			return aquarius.QueryResult{}, fmt.Errorf("unknown sort field: %s", field)
		}
		direction := "ASC"
		if dir < 0 {
			direction = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("%s %s", col, direction))
		ordered = true
	}
	if !ordered {
		tx = tx.Order("c_date ASC")
	}
	// deterministic page boundaries regardless of sort
	tx = tx.Order("did ASC")

	var rows []models.Asset
	err := tx.Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&rows).Error
	if err != nil {
		return aquarius.QueryResult{}, domain.TransientError{Op: "store query", Err: err}
	}

	records := make([]aquarius.Record, 0, len(rows))
	for i := range rows {
		rec, err := fromModel(&rows[i])
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}

	return aquarius.QueryResult{Records: records, Total: total}, nil
}

func (r *AssetRepository) PutMain(ctx context.Context, rec *aquarius.Record) error {
	row, err := toModel(rec)
	if err != nil {
		return err
	}
	row.MDate = time.Now().UTC()

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"data_token", "document", "search_text", "is_in_purgatory",
			"last_block", "last_tx_index", "last_log_index", "dirty", "m_date",
		}),
	}).Create(row).Error
	if err != nil {
		return domain.TransientError{Op: "main index put", Err: err}
	}

	r.invalidate(rec.ID)
	return nil
}

func (r *AssetRepository) DeleteMain(ctx context.Context, did string) error {
	err := r.db.WithContext(ctx).Delete(&models.Asset{}, "did = ?", did).Error
	if err != nil {
		return domain.TransientError{Op: "main index delete", Err: err}
	}
	r.invalidate(did)
	return nil
}

// SetDirty flips only the repair marker, leaving the document and the
// last-processed position untouched.
func (r *AssetRepository) SetDirty(ctx context.Context, did string, dirty bool) error {
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Where("did = ?", did).
		Update("dirty", dirty).Error
	if err != nil {
		return domain.TransientError{Op: "main index mark", Err: err}
	}
	r.invalidate(did)
	return nil
}

func (r *AssetRepository) GetPlus(ctx context.Context, did string) (*aquarius.PlusRecord, error) {
	var row models.AssetPlus
	err := r.db.WithContext(ctx).
		Where("did = ?", did).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.NotFoundError{Resource: did + domain.PlusIndexSuffix}
		}
		return nil, domain.TransientError{Op: "plus index get", Err: err}
	}

	return &aquarius.PlusRecord{
		DID:           row.DID,
		PricePerToken: row.PricePerToken,
		TotalSupply:   row.TotalSupply,
		Liquidity:     row.Liquidity,
		IsInPurgatory: row.IsInPurgatory,
		UpdatedBlock:  row.UpdatedBlock,
		Updated:       row.MDate,
	}, nil
}

func (r *AssetRepository) PutPlus(ctx context.Context, plus *aquarius.PlusRecord) error {
	row := models.AssetPlus{
		DID:           plus.DID,
		PricePerToken: plus.PricePerToken,
		TotalSupply:   plus.TotalSupply,
		Liquidity:     plus.Liquidity,
		IsInPurgatory: plus.IsInPurgatory,
		UpdatedBlock:  plus.UpdatedBlock,
		MDate:         time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price_per_token", "total_supply", "liquidity",
			"is_in_purgatory", "updated_block", "m_date",
		}),
	}).Create(&row).Error
	if err != nil {
		return domain.TransientError{Op: "plus index put", Err: err}
	}
	return nil
}

func (r *AssetRepository) DeletePlus(ctx context.Context, did string) error {
	err := r.db.WithContext(ctx).Delete(&models.AssetPlus{}, "did = ?", did).Error
	if err != nil {
		return domain.TransientError{Op: "plus index delete", Err: err}
	}
	return nil
}

func (r *AssetRepository) invalidate(did string) {
	if r.mc != nil {
		_ = r.mc.Delete(cacheKey(did))
	}
}

func filterColumn(field string) (string, bool) {
	switch field {
	case "isInPurgatory":
		return "is_in_purgatory", true
	case "dataToken":
		return "data_token", true
	case "did", "id":
		return "did", true
	default:
		return "", false
	}
}

func sortColumn(field string) (string, bool) {
	switch field {
	case "created":
		return "c_date", true
	case "updated":
		return "m_date", true
	case "did", "id":
		return "did", true
	default:
		return "", false
	}
}

func toModel(rec *aquarius.Record) (*models.Asset, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	return &models.Asset{
		DID:           rec.ID,
		DataToken:     rec.DataToken,
		Document:      string(doc),
		SearchText:    SearchText(rec),
		IsInPurgatory: rec.IsInPurgatory,
		LastBlock:     rec.Event.Block,
		LastTxIndex:   rec.Event.TxIndex,
		LastLogIndex:  rec.Event.LogIndex,
		Dirty:         rec.Dirty,
		CDate:         rec.Created,
	}, nil
}

func fromModel(row *models.Asset) (*aquarius.Record, error) {
	var rec aquarius.Record
	if err := json.Unmarshal([]byte(row.Document), &rec); err != nil {
		return nil, fmt.Errorf("corrupt document for %s: %w", row.DID, err)
	}

	// scalar columns are authoritative over the serialized copy
	rec.ID = row.DID
	rec.IsInPurgatory = row.IsInPurgatory
	rec.Event = aquarius.EventPoint{
		Block:    row.LastBlock,
		TxIndex:  row.LastTxIndex,
		LogIndex: row.LastLogIndex,
	}
	rec.Dirty = row.Dirty

	return &rec, nil
}

// SearchText flattens the queryable metadata fields of a record into
// one matchable string.
func SearchText(rec *aquarius.Record) string {
	parts := []string{rec.ID, rec.DataToken}
	if meta := aquarius.MetadataService(rec.Service); meta != nil {
		parts = append(parts,
			meta.Attributes.Name,
			meta.Attributes.Description,
			meta.Attributes.Author,
		)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
