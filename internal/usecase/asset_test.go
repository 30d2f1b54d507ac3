package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
)

func seedRecords(store *mockStore, n int) []string {
	dids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := testRecord(uint64(i))
		rec.ID = testDID[:len(testDID)-2] + string(rune('a'+i/10)) + string(rune('a'+i%10))
		store.main[rec.ID] = rec
		dids = append(dids, rec.ID)
	}
	return dids
}

func TestListDIDsSkipsPurgatory(t *testing.T) {
	store := newMockStore()
	dids := seedRecords(store, 3)
	store.main[dids[1]].IsInPurgatory = true

	uc := NewAssetUsecase(store)
	got, err := uc.ListDIDs(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 listed dids, got %d", len(got))
	}
	for _, did := range got {
		if did == dids[1] {
			t.Fatalf("purgatory record leaked into listing")
		}
	}
}

func TestGetMetadata(t *testing.T) {
	store := newMockStore()
	rec := testRecord(0)
	store.main[rec.ID] = rec

	uc := NewAssetUsecase(store)
	meta, err := uc.GetMetadata(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get metadata failed: %v", err)
	}
	if meta.Type != aquarius.ServiceTypeMetadata || meta.Attributes.Name != "ocean data" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestGetMetadataMissingService(t *testing.T) {
	store := newMockStore()
	rec := testRecord(0)
	rec.Service = []aquarius.Service{{Type: aquarius.ServiceTypeAccess}}
	store.main[rec.ID] = rec

	uc := NewAssetUsecase(store)
	_, err := uc.GetMetadata(context.Background(), rec.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetMetadataUnknownDID(t *testing.T) {
	uc := NewAssetUsecase(newMockStore())
	_, err := uc.GetMetadata(context.Background(), "did:op:missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestQueryPagination(t *testing.T) {
	store := newMockStore()
	seedRecords(store, 25)

	uc := NewAssetUsecase(store)

	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		result, err := uc.Query(context.Background(), aquarius.QuerySpec{Page: page, PageSize: 10})
		if err != nil {
			t.Fatalf("page %d failed: %v", page, err)
		}
		if result.Total != 25 {
			t.Fatalf("expected total 25, got %d", result.Total)
		}
		want := 10
		if page == 3 {
			want = 5
		}
		if len(result.Records) != want {
			t.Fatalf("page %d: expected %d records, got %d", page, want, len(result.Records))
		}
		for _, rec := range result.Records {
			if seen[rec.ID] {
				t.Fatalf("record %s appeared on two pages", rec.ID)
			}
			seen[rec.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Fatalf("pages must cover every record, got %d", len(seen))
	}
}

func TestQueryDefaults(t *testing.T) {
	store := newMockStore()
	seedRecords(store, 5)

	uc := NewAssetUsecase(store)
	result, err := uc.Query(context.Background(), aquarius.QuerySpec{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(result.Records) != 5 {
		t.Fatalf("expected default page to cover all records, got %d", len(result.Records))
	}
}
