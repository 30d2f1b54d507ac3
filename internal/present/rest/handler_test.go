package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/present/rest/middleware"
	"github.com/oceanprotocol/aquarius/internal/service"
	"github.com/oceanprotocol/aquarius/internal/usecase"
)

type stubStore struct {
	records  map[string]*aquarius.Record
	mainPuts int
	plusDels int
	failPing bool
}

func newStubStore() *stubStore {
	return &stubStore{records: map[string]*aquarius.Record{}}
}

func (s *stubStore) Ping(ctx context.Context) error {
	if s.failPing {
		return domain.TransientError{Op: "store ping"}
	}
	return nil
}

func (s *stubStore) Get(ctx context.Context, did string) (*aquarius.Record, error) {
	rec, ok := s.records[did]
	if !ok {
		return nil, domain.NotFoundError{Resource: did}
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) GetAllListed(ctx context.Context) ([]aquarius.Record, error) {
	var out []aquarius.Record
	for _, rec := range s.records {
		if !rec.IsInPurgatory {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *stubStore) Query(ctx context.Context, q aquarius.QuerySpec) (aquarius.QueryResult, error) {
	all, _ := s.GetAllListed(ctx)
	return aquarius.QueryResult{Records: all, Total: int64(len(all))}, nil
}

func (s *stubStore) PutMain(ctx context.Context, rec *aquarius.Record) error {
	s.mainPuts++
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *stubStore) DeleteMain(ctx context.Context, did string) error {
	delete(s.records, did)
	return nil
}

func (s *stubStore) SetDirty(ctx context.Context, did string, dirty bool) error {
	if rec, ok := s.records[did]; ok {
		rec.Dirty = dirty
	}
	return nil
}

func (s *stubStore) GetPlus(ctx context.Context, did string) (*aquarius.PlusRecord, error) {
	return nil, domain.NotFoundError{Resource: did}
}

func (s *stubStore) PutPlus(ctx context.Context, plus *aquarius.PlusRecord) error {
	return nil
}

func (s *stubStore) DeletePlus(ctx context.Context, did string) error {
	s.plusDels++
	return nil
}

type stubChain struct {
	events     []aquarius.MetadataEvent
	failLatest bool
}

func (s *stubChain) EventsSince(ctx context.Context, token string, after aquarius.EventPoint) ([]aquarius.MetadataEvent, error) {
	var out []aquarius.MetadataEvent
	for _, ev := range s.events {
		if ev.Point.After(after) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubChain) AllEventsSince(ctx context.Context, fromBlock uint64) ([]aquarius.MetadataEvent, error) {
	return s.events, nil
}

func (s *stubChain) LatestBlock(ctx context.Context) (uint64, error) {
	if s.failLatest {
		return 0, domain.TransientError{Op: "chain block number"}
	}
	return 0, nil
}

const (
	stubToken = "0x00000000000000000000000000000000000AaAA1"
	stubDID   = "did:op:0000000000000000000000000000000000000000000000000000000000000001"
)

func stubRecord() *aquarius.Record {
	return &aquarius.Record{
		ID:        stubDID,
		Created:   time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		DataToken: stubToken,
		Service: []aquarius.Service{{
			Type: aquarius.ServiceTypeMetadata,
			Attributes: aquarius.ServiceAttributes{
				Name:  "ocean data",
				Price: "10",
			},
		}},
		Event: aquarius.EventPoint{Block: 90},
	}
}

func setup(store *stubStore, chain *stubChain, allowed []string) *echo.Echo {
	e := echo.New()
	h := NewHandler(
		usecase.NewAssetUsecase(store),
		usecase.NewMetadataUpdater(store, chain, nil),
		chain,
		nil,
	)
	h.RegisterRoutes(e, middleware.NewAdminAuthMiddleware(service.NewAuthService(allowed)))
	return e
}

func doJSON(e *echo.Echo, method, target, body, remoteAddr string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetDDO(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/ddo/"+stubDID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got aquarius.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if got.ID != stubDID {
		t.Fatalf("unexpected id %s", got.ID)
	}
}

func TestGetDDONotFound(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/ddo/did:op:unknown", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	want := "did:op:unknown asset DID is not in OceanDB"
	if rec.Body.String() != want {
		t.Fatalf("expected body %q, got %q", want, rec.Body.String())
	}
}

func TestListDIDs(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var dids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &dids); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if len(dids) != 1 || dids[0] != stubDID {
		t.Fatalf("unexpected dids %v", dids)
	}
}

func TestGetMetadata(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/metadata/"+stubDID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var svc aquarius.Service
	if err := json.Unmarshal(rec.Body.Bytes(), &svc); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if svc.Attributes.Name != "ocean data" {
		t.Fatalf("unexpected metadata %+v", svc)
	}
}

func TestQueryRequiresQueryString(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	rec := doJSON(e, http.MethodPost, "/ddo/query", `{"query":{}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No query_string found.") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestQueryPaginationDefaults(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodPost, "/ddo/query",
		`{"query":{"query_string":{"query":"ocean"}}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp aquarius.PaginatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if resp.Page != 1 {
		t.Fatalf("expected default page 1, got %d", resp.Page)
	}
	if resp.TotalResults != 1 || resp.TotalPages != 1 {
		t.Fatalf("unexpected totals %+v", resp)
	}
}

func TestValidate(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	valid := `{"main":{"name":"n","author":"a","license":"l","type":"dataset","dateCreated":"2020-06-01T00:00:00Z"}}`
	rec := doJSON(e, http.MethodPost, "/ddo/validate", valid, "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "true" {
		t.Fatalf("expected true, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodPost, "/ddo/validate", `{"main":{"name":"n"}}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with error list, got %d", rec.Code)
	}
	var errs []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errs); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if len(errs) == 0 {
		t.Fatalf("expected violations for incomplete document")
	}
}

func TestValidateRemoteRejectsMalformed(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	rec := doJSON(e, http.MethodPost, "/ddo/validate-remote", `{"id":"x"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid DDO format.") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestUpdateRejectsUnknownAdmin(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, []string{"0x1234567890123456789012345678901234567890"})

	// httptest requests come from 192.0.2.1, so the loopback bypass does
	// not apply
	body := `{"adminAddress":"0x0000000000000000000000000000000000000bad","signature":"0x00"}`
	rec := doJSON(e, http.MethodPut, "/ddo/update/"+stubDID, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Unauthorized.") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if store.mainPuts != 0 {
		t.Fatalf("rejected request must not reconcile, got %d writes", store.mainPuts)
	}
}

func TestUpdateIgnoresForwardedHeader(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, []string{"0x1234567890123456789012345678901234567890"})

	// forged forwarding headers must not grant the loopback bypass;
	// only the connection peer counts
	req := httptest.NewRequest(http.MethodPut, "/ddo/update/"+stubDID, strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("X-Real-Ip", "127.0.0.1")
	req.RemoteAddr = "203.0.113.50:44321"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if store.mainPuts != 0 {
		t.Fatalf("rejected request must not reconcile, got %d writes", store.mainPuts)
	}
}

func TestUpdateLoopbackBypass(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	chain := &stubChain{events: []aquarius.MetadataEvent{{
		Type:      aquarius.EventMetadataRetired,
		DataToken: stubToken,
		Point:     aquarius.EventPoint{Block: 100},
	}}}
	e := setup(store, chain, nil)

	rec := doJSON(e, http.MethodPut, "/ddo/update/"+stubDID, "", "127.0.0.1:40000")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "acknowledged.") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if store.records[stubDID].Event.Block != 100 {
		t.Fatalf("expected reconciliation to advance the marker, got %d",
			store.records[stubDID].Event.Block)
	}
}

func TestUpdateUnknownDID(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	rec := doJSON(e, http.MethodPut, "/ddo/update/did:op:unknown", "", "127.0.0.1:40000")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	want := "did:op:unknown asset DID is not in OceanDB"
	if rec.Body.String() != want {
		t.Fatalf("expected body %q, got %q", want, rec.Body.String())
	}
}

func TestDelistRetires(t *testing.T) {
	store := newStubStore()
	store.records[stubDID] = stubRecord()
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodDelete, "/ddo/"+stubDID, "", "127.0.0.1:40000")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := store.records[stubDID]
	if !got.IsInPurgatory {
		t.Fatalf("expected delisted record in purgatory")
	}
	if store.plusDels == 0 {
		t.Fatalf("expected plus entry cleanup on delist")
	}
}

func TestHealth(t *testing.T) {
	e := setup(newStubStore(), &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthStoreDown(t *testing.T) {
	store := newStubStore()
	store.failPing = true
	e := setup(store, &stubChain{}, nil)

	rec := doJSON(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "store unreachable") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestHealthChainDown(t *testing.T) {
	e := setup(newStubStore(), &stubChain{failLatest: true}, nil)

	rec := doJSON(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chain unreachable") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
