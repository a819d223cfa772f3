package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
)

// 默认允许本地开发环境的来源
var defaultAllowedPrefixes = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func newUpgrader(allowedPrefixes []string) websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range allowedPrefixes {
			if p == "*" || strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}}
}

type Manager struct {
	h        *Hub
	svc      collab.Service
	sem      *collab.SemaphoreControl
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewManager allowedOrigins 为空时只放行本地来源
func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl, log *zap.Logger, allowedOrigins []string) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedPrefixes
	}
	return &Manager{h: h, svc: svc, sem: sem, log: log, upgrader: newUpgrader(allowedOrigins)}
}

// WebSocketConnect 需要挂在鉴权中间件之后
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "User context missing"})
		return
	}
	username := c.GetString(middleware.CtxUsername)

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn("websocket upgrade error", zap.Error(err), zap.String("origin", c.Request.Header.Get("Origin")))
		return
	}

	wsConn := NewConn(conn, m.h, userID, username, m.svc, m.sem, m.log)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: MsgWelcome, UserID: userID})

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
