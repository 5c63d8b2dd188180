package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub is the part of the gateway the websocket handler drives.
type Hub interface {
	Connect(identity *domain.Identity) (*gateway.Conn, error)
	Disconnect(connID string)
	HandleFrame(ctx context.Context, conn *gateway.Conn, raw []byte)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	hub      Hub
	auth     *AuthMiddleware
	checks   map[string]Pinger
	log      domain.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewServer(port string, hub Hub, auth *AuthMiddleware, checks map[string]Pinger, log domain.Logger) *Server {
	s := &Server{
		hub:    hub,
		auth:   auth,
		checks: checks,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.auth.Handle(), s.serveWS)

	return r
}

func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "deps": deps})
}

func (s *Server) serveWS(c *gin.Context) {
	identity := identityFrom(c)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote_addr", c.ClientIP(), "error", err)
		return
	}

	conn, err := s.hub.Connect(identity)
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "admission failed"
		if gateway.IsAuthError(err) {
			code, reason = websocket.ClosePolicyViolation, "unauthorized"
		}
		s.log.Warn("connection refused", "remote_addr", c.ClientIP(), "error", err)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
		return
	}

	go s.writePump(ws, conn)
	s.readPump(ws, conn)
}

// readPump handles frames in arrival order and tears the connection down
// when the peer goes away.
func (s *Server) readPump(ws *websocket.Conn, conn *gateway.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.hub.Disconnect(conn.ID)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		s.hub.HandleFrame(ctx, conn, raw)
	}
}

func (s *Server) writePump(ws *websocket.Conn, conn *gateway.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case frame := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("websocket write error", "conn_id", conn.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
