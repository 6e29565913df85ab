// Package access is the permission gate in front of list and search
// operations. Authentication happens upstream; the gate only turns a trusted
// principal into a query scope and enforces roles on routes.
package access

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pulsebook/pulsebook/internal/model"
)

// Headers set by the authenticating proxy.
const (
	HeaderUserID      = "X-User-ID"
	HeaderRole        = "X-User-Role"
	HeaderAccountType = "X-Account-Type"
)

type contextKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	UserID      int64  `json:"user_id"`
	Role        string `json:"role"`
	AccountType string `json:"account_type"`
}

// IsAdmin reports whether p has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}

// Personal reports whether p uses a personal (non-admin) account.
func (p Principal) Personal() bool {
	return p.AccountType == model.AccountPersonal && !p.IsAdmin()
}

// Scope returns the query scope for p. Personal accounts only see records
// they authored and patients they created; everyone else is unrestricted.
func (p Principal) Scope() model.Scope {
	if p.Personal() {
		return model.Scope{UserID: p.UserID}
	}
	return model.Scope{}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// Middleware reads the principal from the trusted upstream headers and stores
// it in the request context. When the headers are absent, fallback is used if
// non-nil; otherwise the request is rejected with 401.
func Middleware(fallback *Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			p, err := parseHeaders(req.Header)
			switch {
			case err != nil:
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			case p == nil && fallback == nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
			case p == nil:
				p = fallback
			}
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), *p)))
			return next(c)
		}
	}
}

// RequireRole rejects callers that hold none of roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := FromContext(c.Request().Context())
			if ok {
				for _, r := range roles {
					if p.Role == r || p.IsAdmin() {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func parseHeaders(h http.Header) (*Principal, error) {
	raw := strings.TrimSpace(h.Get(HeaderUserID))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid %s %q", HeaderUserID, raw)
	}
	p := &Principal{
		UserID:      id,
		Role:        strings.TrimSpace(h.Get(HeaderRole)),
		AccountType: strings.TrimSpace(h.Get(HeaderAccountType)),
	}
	if p.Role == "" {
		p.Role = model.RolePractitioner
	}
	if p.AccountType == "" {
		p.AccountType = model.AccountPractitioner
	}
	return p, nil
}
