// Package handler 提供 HTTP 请求处理器
package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"talk-tutor-server/internal/middleware"
	"talk-tutor-server/internal/service"
	"talk-tutor-server/pkg/response"
)

// AuthHandler 认证请求处理器
// 处理学生登录和登出
type AuthHandler struct {
	chatService *service.ChatService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(chatService *service.ChatService) *AuthHandler {
	return &AuthHandler{
		chatService: chatService,
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`     // 学生姓名
	Password string `json:"password" binding:"required"` // 班级暗号
}

// Login 学生登录
// @Summary 学生登录
// @Description 使用姓名和班级暗号登录，返回访问令牌和历史消息
// @Tags 认证
// @Accept json
// @Produce json
// @Param body body LoginRequest true "登录信息"
// @Success 200 {object} response.Response{data=service.LoginResult}
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	result, err := h.chatService.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		switch err {
		case service.ErrEmptyName:
			response.EmptyName(c)
		case service.ErrPasswordWrong:
			response.PasswordWrong(c)
		default:
			response.InternalError(c, "登录失败")
		}
		return
	}

	response.SuccessWithMessage(c, "登录成功", result)
}

// Logout 学生登出
// @Summary 学生登出
// @Description 登出当前学生，清空会话状态，Token 加入黑名单
// @Tags 认证
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	name := middleware.GetStudentName(c)
	if name == "" {
		response.NotLoggedIn(c)
		return
	}

	// 认证中间件已把 Token 信息放进上下文
	tokenHash := ""
	if token, exists := c.Get("token"); exists {
		tokenHash = middleware.HashToken(token.(string))
	}
	expireAt := time.Now()
	if exp, exists := c.Get("token_exp"); exists {
		if t, ok := exp.(time.Time); ok {
			expireAt = t
		}
	}

	h.chatService.Logout(c.Request.Context(), name, tokenHash, expireAt)
	response.SuccessWithMessage(c, "登出成功", nil)
}
