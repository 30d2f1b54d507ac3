package middleware

import (
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/oceanprotocol/aquarius/internal/domain"
	"github.com/oceanprotocol/aquarius/internal/present/rest/presenter"
	"github.com/oceanprotocol/aquarius/internal/service"
)

var tracer = otel.Tracer("auth")

// AdminAuthMiddleware guards the reconciliation-trigger routes.
// Loopback callers pass unconditionally; everyone else must supply an
// allow-listed adminAddress and a signature recovering to it.
type AdminAuthMiddleware struct {
	auth *service.AuthService
}

func NewAdminAuthMiddleware(auth *service.AuthService) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{auth: auth}
}

type adminRequest struct {
	AdminAddress string `json:"adminAddress"`
	Signature    string `json:"signature"`
}

func (m *AdminAuthMiddleware) RequireUpdatePermission(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.RequireUpdatePermission")
		defer span.End()

		if isLoopback(peerIP(c.Request())) {
			c.Set(domain.RequesterLoopbackCtxKey, true)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			span.RecordError(err)
			return presenter.Unauthorized(c)
		}

		var req adminRequest
		if err := json.Unmarshal(body, &req); err != nil {
			span.RecordError(errors.Wrap(err, "invalid admin payload"))
			return presenter.Unauthorized(c)
		}

		if err := m.auth.Authorize(ctx, req.AdminAddress, req.Signature); err != nil {
			span.RecordError(err)
			return presenter.Unauthorized(c)
		}

		c.Set(domain.RequesterAddressCtxKey, req.AdminAddress)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// peerIP returns the address of the direct connection peer. Forwarding
// headers are never consulted here: the loopback bypass gates on the
// actual socket.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
