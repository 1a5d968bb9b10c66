// Package server is the HTTP control API for a session manager, with a
// websocket stream of session events.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/manager"
	"github.com/redblock-app/chainblock/store"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// the request metrics register globally, so every server shares one
// middleware
var promMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("chainblock")
})

// QuotaReporter reports the operator's action quota.
type QuotaReporter interface {
	Snapshot(ctx context.Context) (limiter.Limit, error)
}

type Config struct {
	Manager *manager.Manager
	Bus     *events.Bus
	Quota   QuotaReporter
	// optional
	Store  *store.Store
	Logger *slog.Logger
	Bind   string
	// when set, /api requests need "Authorization: Bearer <token>"
	AdminToken string
}

type Server struct {
	cfg    Config
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
}

type GenericStatus struct {
	Status  string `json:"status"`
	Daemon  string `json:"daemon"`
	Message string `json:"msg,omitempty"`
}

func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil || cfg.Bus == nil || cfg.Quota == nil {
		return nil, fmt.Errorf("server needs a manager, an event bus and a quota")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "server")

	e := echo.New()
	srv := &Server{
		cfg:    cfg,
		echo:   e,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:           srv,
		Addr:              cfg.Bind,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1024 * 1024,
	}

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(otelecho.Middleware("chainblock"))
	e.Use(promMiddleware())

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echoprometheus.NewHandler())

	api := e.Group("/api")
	if cfg.AdminToken != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.AdminToken, nil
			},
		}))
	}
	api.GET("/sessions", srv.HandleListSessions)
	api.POST("/sessions", srv.HandleCreateSession)
	api.GET("/sessions/:id", srv.HandleGetSession)
	api.DELETE("/sessions/:id", srv.HandleDeleteSession)
	api.POST("/sessions/:id/confirm", srv.HandleConfirmSession)
	api.POST("/sessions/:id/start", srv.HandleStartSession)
	api.POST("/sessions/:id/stop", srv.HandleStopSession)
	api.POST("/sessions/:id/rewind", srv.HandleRewindSession)
	api.GET("/sessions/:id/events", srv.HandleSessionEvents)
	api.GET("/events", srv.HandleAllEvents)
	api.GET("/limit", srv.HandleLimit)
	api.GET("/history", srv.HandleHistory)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Run serves until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting control API", "bind", srv.httpd.Addr)
	errc := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (srv *Server) Shutdown(ctx context.Context) error {
	srv.logger.Info("shutting down control API")
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var msg string
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%s", he.Message)
	} else {
		msg = err.Error()
	}
	if code >= 500 {
		srv.logger.Warn("control-api-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericStatus{Status: "error", Daemon: "chainblock", Message: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

// sessionID accepts both the bare number and the full "session/<n>" form
// (URL-escaped) in routes.
func sessionID(c echo.Context) string {
	id := c.Param("id")
	if strings.HasPrefix(id, "session%2F") || strings.HasPrefix(id, "session%2f") {
		id = "session/" + id[len("session%2F"):]
	}
	if !strings.HasPrefix(id, "session/") {
		id = "session/" + id
	}
	return id
}
