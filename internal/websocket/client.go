// Package websocket 提供对话的 WebSocket 通道
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"talk-tutor-server/internal/service"
	"talk-tutor-server/pkg/response"
)

const (
	// writeWait 单帧写超时
	writeWait = 10 * time.Second

	// maxMessageSize 入站帧大小上限
	maxMessageSize = 64 * 1024
)

// 入站帧类型
const (
	TypeSubmit = "submit" // 提交一轮对话
)

// 出站帧类型
const (
	TypeDelta = "delta" // 增量文本
	TypeDone  = "done"  // 一轮结束
	TypeError = "error" // 错误
)

// InboundFrame 入站帧
type InboundFrame struct {
	Type    string `json:"type"`              // 帧类型
	Content string `json:"content,omitempty"` // 学生输入
}

// OutboundFrame 出站帧
type OutboundFrame struct {
	Type       string `json:"type"`                 // 帧类型
	Content    string `json:"content,omitempty"`    // 增量文本
	Reply      string `json:"reply,omitempty"`      // 回复全文（done 帧）
	Suppressed bool   `json:"suppressed,omitempty"` // 是否因重复提交被抑制
	Persisted  bool   `json:"persisted,omitempty"`  // 是否已落表
	Code       int    `json:"code,omitempty"`       // 业务状态码（error 帧）
	Message    string `json:"message,omitempty"`    // 错误信息（error 帧）
}

// Client 一条对话 WebSocket 连接
// 连接内串行处理：一条连接同一时刻只有一轮对话在进行，
// 与会话本身的单轮限制一致
type Client struct {
	conn        *websocket.Conn
	chatService *service.ChatService
	name        string // 归一化后的学生姓名
}

// NewClient 创建 Client 实例
func NewClient(conn *websocket.Conn, chatService *service.ChatService, name string) *Client {
	return &Client{
		conn:        conn,
		chatService: chatService,
		name:        name,
	}
}

// Run 运行连接主循环
// 读取入站帧并逐条处理，连接断开时退出
func (c *Client) Run() {
	defer func() {
		c.conn.Close()
		log.Printf("Chat WebSocket closed: student=%s", c.name)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error (student=%s): %v", c.name, err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeBadRequest, Message: "无法解析的帧"})
			continue
		}

		switch frame.Type {
		case TypeSubmit:
			c.handleSubmit(frame.Content)
		default:
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeBadRequest, Message: "未知的帧类型"})
		}
	}
}

// handleSubmit 处理一轮对话提交
// 增量文本逐帧下发，结束后下发 done 帧
func (c *Client) handleSubmit(content string) {
	result, err := c.chatService.SubmitTurn(context.Background(), c.name, content, func(delta string) {
		c.send(OutboundFrame{Type: TypeDelta, Content: delta})
	})
	if err != nil {
		switch err {
		case service.ErrTurnInFlight:
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeTurnInFlight, Message: "上一轮对话还在进行中，请稍候"})
		case service.ErrEmptyInput:
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeBadRequest, Message: "请输入内容"})
		case service.ErrNotLoggedIn:
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeNotLoggedIn, Message: "请先登录"})
		default:
			c.send(OutboundFrame{Type: TypeError, Code: response.CodeInternalError, Message: "对话失败"})
		}
		return
	}

	c.send(OutboundFrame{
		Type:       TypeDone,
		Reply:      result.Reply,
		Suppressed: result.Suppressed,
		Persisted:  result.Persisted(),
	})
}

// send 发送一个出站帧
// 写失败只记录日志，由读循环感知断开并退出
func (c *Client) send(frame OutboundFrame) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		log.Printf("WebSocket write error (student=%s): %v", c.name, err)
	}
}
