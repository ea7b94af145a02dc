package handler

import (
	"JobNest/internal/api/config"
	"JobNest/internal/hub"
	"JobNest/internal/pkg/response"
	"JobNest/internal/pkg/security"
	"JobNest/internal/service"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type WsHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewWsHandler(h *hub.Hub, cfg *config.Config) *WsHandler {
	return &WsHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: time.Duration(cfg.Ws.HandshakeTimeout) * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Connect 建立 Websocket 连接
// 凭证随握手经 query 传入，校验失败直接拒绝，不进入会话注册
func (s *WsHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	session := s.hub.NewSession(conn, userID)
	log.Info("用户 WS 连接已建立", "userID", userID, "sessionID", session.ID)

	session.ReadLoop()
	s.hub.Unregister(session)
	log.Info("用户 WS 连接已断开", "userID", userID, "sessionID", session.ID)
}
