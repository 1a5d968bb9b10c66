package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redblock-app/chainblock/events"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const wsWriteWait = 10 * time.Second

// HandleSessionEvents streams one session's events as JSON text frames.
func (srv *Server) HandleSessionEvents(c echo.Context) error {
	id := sessionID(c)
	if _, err := srv.cfg.Manager.Get(id); err != nil {
		return httpError(err)
	}
	return srv.streamEvents(c, events.SessionFilter(id))
}

// HandleAllEvents streams the events of every session.
func (srv *Server) HandleAllEvents(c echo.Context) error {
	return srv.streamEvents(c, nil)
}

func (srv *Server) streamEvents(c echo.Context, filter func(*events.Event) bool) error {
	ctx := c.Request().Context()
	// subscribe before upgrading so that no event slips between the two
	evts, cleanup, err := srv.cfg.Bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	defer cleanup()

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logger := srv.logger.With("remote", c.RealIP(), "path", c.Path())
	logger.Info("event stream connected")

	// the read loop only notices disconnects
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			logger.Info("event stream disconnected")
			return nil
		case evt, ok := <-evts:
			if !ok {
				logger.Warn("event stream subscription ended")
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription ended")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return nil
			}
			if err := ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
			if err := ws.WriteJSON(evt); err != nil {
				logger.Info("event stream write error", "err", err)
				return nil
			}
		}
	}
}
