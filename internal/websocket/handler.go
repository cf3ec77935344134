// Package websocket 提供对话的 WebSocket 通道
// 与 SSE 接口走同一条对话流水线，适合需要双向通信的前端
package websocket

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"talk-tutor-server/internal/service"
	pkgJwt "talk-tutor-server/pkg/jwt"
	"talk-tutor-server/pkg/response"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 检查来源（生产环境应该验证）
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler 处理 WebSocket 连接
type Handler struct {
	chatService *service.ChatService
	jwtService  *pkgJwt.JWTService
}

// NewHandler 创建 WebSocket Handler
func NewHandler(chatService *service.ChatService, jwtService *pkgJwt.JWTService) *Handler {
	return &Handler{
		chatService: chatService,
		jwtService:  jwtService,
	}
}

// HandleChatWS 处理对话 WebSocket 连接
// 路由: GET /ws/chat
// 参数: token (query parameter) - 登录时签发的 JWT
func (h *Handler) HandleChatWS(c *gin.Context) {
	// WebSocket 无法带 Authorization 头，token 放在 query 里
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "需要认证 token")
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "无效的 token")
		return
	}

	// 升级 HTTP 连接为 WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := NewClient(conn, h.chatService, claims.Name)
	go client.Run()

	log.Printf("Chat WebSocket connected: student=%s", claims.Name)
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// WebSocket 路由不走认证中间件（token 在 query 中验证）
	ws := r.Group("/ws")
	{
		ws.GET("/chat", h.HandleChatWS)
	}
}
