// Package handler 提供 HTTP 请求处理器
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"talk-tutor-server/internal/middleware"
	"talk-tutor-server/internal/service"
	"talk-tutor-server/pkg/response"
)

// ChatHandler 对话请求处理器
// 处理提交对话、查询历史和课堂状态
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// SubmitRequest 提交对话请求
type SubmitRequest struct {
	Content string `json:"content" binding:"required"` // 学生输入
}

// Submit 提交一轮对话
// 以 SSE 形式返回：每段增量文本一个 delta 事件，
// 结束时一个 done 事件携带全文和落表结果，出错时一个 error 事件
// @Summary 提交一轮对话
// @Tags 对话
// @Security Bearer
// @Accept json
// @Produce text/event-stream
// @Param body body SubmitRequest true "学生输入"
// @Router /api/v1/chat [post]
func (h *ChatHandler) Submit(c *gin.Context) {
	name := middleware.GetStudentName(c)
	if name == "" {
		response.NotLoggedIn(c)
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	// 进入流式响应模式
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	result, err := h.chatService.SubmitTurn(c.Request.Context(), name, req.Content, func(delta string) {
		c.SSEvent("delta", delta)
		c.Writer.Flush()
	})
	if err != nil {
		// 这些错误都发生在任何增量输出之前
		switch err {
		case service.ErrTurnInFlight:
			c.SSEvent("error", gin.H{"code": response.CodeTurnInFlight, "message": "上一轮对话还在进行中，请稍候"})
		case service.ErrEmptyInput:
			c.SSEvent("error", gin.H{"code": response.CodeBadRequest, "message": "请输入内容"})
		case service.ErrNotLoggedIn:
			c.SSEvent("error", gin.H{"code": response.CodeNotLoggedIn, "message": "请先登录"})
		default:
			c.SSEvent("error", gin.H{"code": response.CodeInternalError, "message": "对话失败"})
		}
		c.Writer.Flush()
		return
	}

	c.SSEvent("done", gin.H{
		"reply":      result.Reply,
		"suppressed": result.Suppressed,
		"persisted":  result.Persisted(),
	})
	c.Writer.Flush()
}

// History 查询历史消息
// @Summary 查询当前会话的全部消息
// @Tags 对话
// @Security Bearer
// @Produce json
// @Router /api/v1/chat/history [get]
func (h *ChatHandler) History(c *gin.Context) {
	name := middleware.GetStudentName(c)
	if name == "" {
		response.NotLoggedIn(c)
		return
	}

	messages, err := h.chatService.History(name)
	if err != nil {
		response.NotLoggedIn(c)
		return
	}
	response.Success(c, gin.H{"messages": messages})
}

// Online 查询在线学生名单
// @Summary 查询课堂在线名单
// @Tags 课堂
// @Security Bearer
// @Produce json
// @Router /api/v1/class/online [get]
func (h *ChatHandler) Online(c *gin.Context) {
	names := h.chatService.OnlineStudents(c.Request.Context())
	c.JSON(http.StatusOK, response.Response{
		Code:    response.CodeSuccess,
		Message: "success",
		Data:    gin.H{"students": names},
	})
}
