package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/oceanprotocol/aquarius"
	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/present/rest/middleware"
	"github.com/oceanprotocol/aquarius/internal/present/rest/presenter"
	"github.com/oceanprotocol/aquarius/internal/usecase"
	"github.com/oceanprotocol/aquarius/schemas"
)

type Handler struct {
	asset   *usecase.AssetUsecase
	updater *usecase.MetadataUpdater
	chain   usecase.ChainEventSource
	signals usecase.SignalStream
}

func NewHandler(
	asset *usecase.AssetUsecase,
	updater *usecase.MetadataUpdater,
	chain usecase.ChainEventSource,
	signals usecase.SignalStream,
) *Handler {
	return &Handler{
		asset:   asset,
		updater: updater,
		chain:   chain,
		signals: signals,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, admin *middleware.AdminAuthMiddleware) {
	e.GET("/", h.handleListDIDs)
	e.GET("/ddo", h.handleListDDOs)
	e.GET("/ddo/:did", h.handleGetDDO)
	e.GET("/metadata/:did", h.handleGetMetadata)
	e.POST("/ddo/query", h.handleQuery)
	e.POST("/ddo/validate", h.handleValidate)
	e.POST("/ddo/validate-remote", h.handleValidateRemote)
	e.PUT("/ddo/update/:did", h.handleUpdate, admin.RequireUpdatePermission)
	e.DELETE("/ddo/:did", h.handleDelist, admin.RequireUpdatePermission)
	e.GET("/health", h.handleHealth)
	e.GET("/realtime", h.handleRealtime)
}

func (h *Handler) handleListDIDs(c echo.Context) error {
	ctx := c.Request().Context()

	dids, err := h.asset.ListDIDs(ctx)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, dids)
}

func (h *Handler) handleListDDOs(c echo.Context) error {
	ctx := c.Request().Context()

	records, err := h.asset.ListAll(ctx)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, records)
}

func (h *Handler) handleGetDDO(c echo.Context) error {
	ctx := c.Request().Context()
	did := c.Param("did")

	rec, err := h.asset.Get(ctx, did)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFoundDID(c, did)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, rec)
}

func (h *Handler) handleGetMetadata(c echo.Context) error {
	ctx := c.Request().Context()
	did := c.Param("did")

	meta, err := h.asset.GetMetadata(ctx, did)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFoundDID(c, did)
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, meta)
}

type queryRequest struct {
	Query  map[string]json.RawMessage `json:"query"`
	Sort   map[string]int             `json:"sort"`
	Offset int                        `json:"offset"`
	Page   int                        `json:"page"`
}

func (h *Handler) handleQuery(c echo.Context) error {
	ctx := c.Request().Context()

	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	raw, ok := req.Query["query_string"]
	if !ok {
		return presenter.BadRequestMessage(c, "No query_string found.")
	}

	text, err := parseQueryString(raw)
	if err != nil {
		return presenter.BadRequest(c, err)
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.Offset < 1 {
		req.Offset = 100
	}

	result, err := h.asset.Query(ctx, aquarius.QuerySpec{
		Text:     text,
		Sort:     req.Sort,
		Page:     req.Page,
		PageSize: req.Offset,
	})
	if err != nil {
		return presenter.InternalError(c, err)
	}

	totalPages := result.Total / int64(req.Offset)
	if result.Total%int64(req.Offset) != 0 {
		totalPages++
	}

	return presenter.OK(c, aquarius.PaginatedResponse{
		Results:      result.Records,
		Page:         req.Page,
		TotalPages:   totalPages,
		TotalResults: result.Total,
	})
}

// parseQueryString accepts both the bare string form and the
// {"query": "..."} object form.
func parseQueryString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", errors.New("invalid query_string")
	}
	return obj.Query, nil
}

func (h *Handler) handleValidate(c echo.Context) error {
	var doc map[string]any
	if err := c.Bind(&doc); err != nil {
		return presenter.BadRequest(c, err)
	}

	if schemas.IsValidLocal(doc) {
		return presenter.OK(c, true)
	}
	return presenter.OK(c, schemas.ListErrorsLocal(doc))
}

func (h *Handler) handleValidateRemote(c echo.Context) error {
	var doc map[string]any
	if err := c.Bind(&doc); err != nil {
		return presenter.BadRequest(c, err)
	}

	services, ok := doc["service"].([]any)
	if !ok {
		return presenter.BadRequestMessage(c, "Invalid DDO format.")
	}

	attrs, ok := extractMetadataAttributes(services)
	if !ok {
		return presenter.BadRequestMessage(c, "Invalid DDO format.")
	}

	if schemas.IsValidRemote(attrs) {
		return presenter.OK(c, true)
	}
	return presenter.OK(c, schemas.ListErrorsRemote(attrs))
}

func extractMetadataAttributes(services []any) (map[string]any, bool) {
	for _, s := range services {
		svc, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if svc["type"] != aquarius.ServiceTypeMetadata {
			continue
		}
		attrs, ok := svc["attributes"].(map[string]any)
		return attrs, ok
	}
	return nil, false
}

func (h *Handler) handleUpdate(c echo.Context) error {
	return h.triggerReconciliation(c, false)
}

// Delisting forces the retirement interpretation rather than only
// re-running standard reconciliation.
func (h *Handler) handleDelist(c echo.Context) error {
	return h.triggerReconciliation(c, true)
}

func (h *Handler) triggerReconciliation(c echo.Context, forceRetire bool) error {
	ctx := c.Request().Context()
	did := c.Param("did")

	rec, err := h.asset.Get(ctx, did)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFoundDID(c, did)
		}
		return presenter.InternalError(c, err)
	}

	if err := h.updater.SingleUpdate(ctx, rec, forceRetire); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return presenter.NotFoundDID(c, did)
		}
		return presenter.InternalError(c, err)
	}

	if h.signals != nil {
		signalType := domain.SignalUpdated
		if forceRetire {
			signalType = domain.SignalRetired
		}
		_ = h.signals.Publish(ctx, aquarius.Signal{Type: signalType, DID: did})
	}

	return presenter.OK(c, "acknowledged.")
}

// handleHealth pings the store and the chain endpoint; either failing
// makes the instance unhealthy.
func (h *Handler) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.asset.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable,
			echo.Map{"status": "unavailable", "reason": "store unreachable"})
	}
	if _, err := h.chain.LatestBlock(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable,
			echo.Map{"status": "unavailable", "reason": "chain unreachable"})
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx := c.Request().Context()

	output := make(chan aquarius.Signal)
	go func() {
		if err := h.signals.Subscribe(ctx, output); err != nil && ctx.Err() == nil {
			slog.ErrorContext(
				ctx, "Signal subscription ended",
				slog.String("error", err.Error()),
				slog.String("module", "socket"),
			)
		}
		close(output)
	}()

	quit := make(chan struct{})

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				close(quit)
				break
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case signal, ok := <-output:
			if !ok {
				return nil
			}
			if err := ws.WriteJSON(signal); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
