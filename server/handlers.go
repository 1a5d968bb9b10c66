package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/manager"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/store"
)

// httpError maps manager and session errors onto status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, manager.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, manager.ErrDuplicateTarget),
		errors.Is(err, chainblock.ErrNotConfirmed),
		errors.Is(err, chainblock.ErrAlreadyRunning),
		errors.Is(err, chainblock.ErrFinished):
		code = http.StatusConflict
	case errors.Is(err, manager.ErrSelfTarget), errors.Is(err, models.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, manager.ErrTooManyStarts):
		code = http.StatusTooManyRequests
	case errors.Is(err, manager.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "chainblock"})
}

type sessionList struct {
	Sessions []*manager.View `json:"sessions"`
}

func (srv *Server) HandleListSessions(c echo.Context) error {
	out := sessionList{Sessions: srv.cfg.Manager.List()}
	if out.Sessions == nil {
		out.Sessions = []*manager.View{}
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleCreateSession(c echo.Context) error {
	var req models.SessionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	v, err := srv.cfg.Manager.Add(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (srv *Server) HandleGetSession(c echo.Context) error {
	v, err := srv.cfg.Manager.Get(sessionID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (srv *Server) HandleDeleteSession(c echo.Context) error {
	if err := srv.cfg.Manager.Remove(c.Request().Context(), sessionID(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleConfirmSession(c echo.Context) error {
	v, err := srv.cfg.Manager.Confirm(sessionID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (srv *Server) HandleStartSession(c echo.Context) error {
	v, err := srv.cfg.Manager.Start(sessionID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, v)
}

func (srv *Server) HandleStopSession(c echo.Context) error {
	v, err := srv.cfg.Manager.Stop(c.Request().Context(), sessionID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (srv *Server) HandleRewindSession(c echo.Context) error {
	v, err := srv.cfg.Manager.Rewind(sessionID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (srv *Server) HandleLimit(c echo.Context) error {
	limit, err := srv.cfg.Quota.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, limit)
}

type historyOutput struct {
	Records []*store.SessionRecord `json:"records"`
}

func (srv *Server) HandleHistory(c echo.Context) error {
	if srv.cfg.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session history is not enabled")
	}
	opts := store.ListOptions{
		SessionID: c.QueryParam("session"),
		Status:    c.QueryParam("status"),
	}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
		}
		opts.Limit = n
	}
	recs, err := srv.cfg.Store.List(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []*store.SessionRecord{}
	}
	return c.JSON(http.StatusOK, historyOutput{Records: recs})
}
