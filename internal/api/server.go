// Package api exposes sync control, record entry and similarity search over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/pulsebook/pulsebook/internal/access"
	"github.com/pulsebook/pulsebook/internal/model"
	"github.com/pulsebook/pulsebook/internal/pulse"
	"github.com/pulsebook/pulsebook/internal/records"
	"github.com/pulsebook/pulsebook/internal/remotedb"
	"github.com/pulsebook/pulsebook/internal/sync"
)

// Syncer runs sync passes on demand.
type Syncer interface {
	SyncAll(ctx context.Context) (sync.Result, error)
	PendingCount(ctx context.Context) (int, error)
	Running() bool
	Last() *sync.LastRun
}

// Searcher ranks records by pulse similarity.
type Searcher interface {
	SearchSimilar(ctx context.Context, grid map[string]string, scope model.Scope) ([]pulse.Match, error)
}

// Pinger checks that a store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RemoteStatus reports reachability and pool statistics of the remote store.
type RemoteStatus interface {
	Pinger
	Stats() *remotedb.PoolStats
}

// Deps are the collaborators behind the routes. Remote is nil when the
// remote store is not configured.
type Deps struct {
	Engine  Syncer
	Records *records.Service
	Search  Searcher
	Local   Pinger
	Remote  RemoteStatus

	// DefaultPrincipal is assumed for requests without identity headers.
	DefaultPrincipal *access.Principal
}

// Server is the HTTP surface.
type Server struct {
	e    *echo.Echo
	deps Deps
	log  *slog.Logger
}

// New builds the echo router and registers every route.
func New(deps Deps, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{e: e, deps: deps, log: logger}

	e.Use(recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))

	e.GET("/api/health", s.health)

	api := e.Group("/api", access.Middleware(deps.DefaultPrincipal))

	api.GET("/sync/status", s.syncStatus)
	api.POST("/sync/trigger", s.syncTrigger)

	api.POST("/records/save", s.saveRecord)
	api.POST("/records/search_similar", s.searchSimilar)
	api.GET("/records/:id", s.getRecord)
	api.DELETE("/records/:id", s.deleteRecord)

	api.GET("/patients/search", s.searchPatients)
	api.GET("/patients/:id/history", s.patientHistory)

	api.POST("/import", s.importRecords, access.RequireRole(model.RoleAdmin, model.RolePractitioner))

	api.GET("/practitioners", s.listPractitioners)
	api.POST("/practitioners", s.createPractitioner, access.RequireRole(model.RoleAdmin))
	api.POST("/users", s.createUser, access.RequireRole(model.RoleAdmin))

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("starting http server", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// --- Middleware --------------------------------------------------------------

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			level := slog.LevelInfo
			if c.Response().Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(req.Context(), level, "request",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start),
				"remote_ip", c.RealIP(),
			)
			return nil
		}
	}
}

func recovery(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)
					logger.Error("panic recovered",
						"panic", fmt.Sprint(r),
						"stack", string(stack[:n]),
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// principal returns the caller set by access.Middleware.
func principal(c echo.Context) access.Principal {
	p, _ := access.FromContext(c.Request().Context())
	return p
}

// toHTTP maps service errors onto status codes.
func toHTTP(err error) error {
	switch {
	case errors.Is(err, records.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, records.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to modify this record")
	case errors.Is(err, records.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, records.ErrUnknownUser):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, records.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
