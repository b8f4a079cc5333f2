package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cascade-loader/pkg/logging"
	"github.com/Sternrassler/cascade-loader/pkg/metrics"
	"github.com/Sternrassler/cascade-loader/pkg/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// server exposes the active session over HTTP and WebSocket.
type server struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func newServer(manager *session.Manager) *echo.Echo {
	s := &server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logging.NewLogger("server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request")
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/snapshot", s.handleSnapshot)
	e.POST("/activate", s.handleActivate)
	e.POST("/cancel", s.handleCancel)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/ws", s.handleWebSocket)
	return e
}

func (s *server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *server) handleSnapshot(c echo.Context) error {
	current := s.manager.Current()
	if current == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active session")
	}
	return c.JSON(http.StatusOK, current.Snapshot())
}

func (s *server) handleActivate(c echo.Context) error {
	started, err := s.manager.Activate(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to activate session")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, started.Delta(0))
}

func (s *server) handleCancel(c echo.Context) error {
	current := s.manager.Current()
	if current == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active session")
	}
	s.manager.Cancel()
	return c.JSON(http.StatusOK, current.Delta(current.VisibleCount()))
}

// handleWebSocket pushes the active session after every cadence tick. Each
// message carries only the items revealed since the previous one; a new run
// id means the client starts over.
func (s *server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade WebSocket")
		return nil
	}

	updates, unsubscribe := s.manager.Subscribe()
	closed := make(chan struct{})

	go s.readPump(conn, closed)
	go s.writePump(conn, updates, unsubscribe, closed)
	return nil
}

// readPump discards client messages and reports when the peer went away.
func (s *server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("WebSocket closed")
			}
			return
		}
	}
}

func (s *server) writePump(conn *websocket.Conn, updates <-chan struct{}, unsubscribe func(), closed <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
	}()

	var runID string
	sent := 0

	push := func() error {
		current := s.manager.Current()
		if current == nil {
			return nil
		}
		if current.ID() != runID {
			runID = current.ID()
			sent = 0
		}
		snap := current.Delta(sent)
		sent = snap.Visible
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(snap)
	}

	if err := push(); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-updates:
			if err := push(); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to push snapshot")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
