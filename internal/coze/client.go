// Package coze 提供 Coze 对话接口的客户端与流式响应解码
package coze

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL Coze 开放平台地址
	DefaultBaseURL = "https://api.coze.cn"
	// chatPath 对话接口路径
	chatPath = "/v3/chat"
)

// ChatMessage 发送给上游的一条上下文消息
type ChatMessage struct {
	Role        string `json:"role"`         // user / assistant
	Content     string `json:"content"`      // 消息内容
	ContentType string `json:"content_type"` // 固定为 "text"
}

// chatRequest 对话接口请求结构
type chatRequest struct {
	BotID              string        `json:"bot_id"`
	UserID             string        `json:"user_id"`
	Stream             bool          `json:"stream"`
	AutoSaveHistory    bool          `json:"auto_save_history"`
	ConversationID     string        `json:"conversation_id,omitempty"`
	AdditionalMessages []ChatMessage `json:"additional_messages"`
}

// Client Coze 对话接口客户端
type Client struct {
	baseURL  string
	apiToken string
	botID    string
	client   *http.Client
}

// NewClient 创建 Client 实例
// 参数:
//   - baseURL: 接口地址，传空使用 DefaultBaseURL
//   - apiToken: 访问令牌
//   - botID: 智能体 ID
//   - timeout: 单轮对话的总超时（覆盖整个流式读取过程）
func NewClient(baseURL, apiToken, botID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		botID:    botID,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// StreamChat 发起一轮流式对话
// conversationID 传空表示无记忆的新上下文；传入上一轮捕获的值可延续多轮记忆
// 返回的 Stream 只能消费一次，读完或出错后即终止，由调用方负责 Close
// 参数:
//   - ctx: 上下文
//   - userID: 上游用户标识（由学生姓名确定性派生）
//   - conversationID: 会话令牌，可为空
//   - messages: 上下文消息（已按窗口裁剪）
//
// 返回:
//   - *Stream: 流式响应解码器
//   - error: 连接或响应状态错误
func (c *Client) StreamChat(ctx context.Context, userID, conversationID string, messages []ChatMessage) (*Stream, error) {
	reqBody := chatRequest{
		BotID:              c.botID,
		UserID:             userID,
		Stream:             true,
		AutoSaveHistory:    true,
		ConversationID:     conversationID,
		AdditionalMessages: messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat service: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return NewStream(resp.Body), nil
}

// NewStream 在任意事件流上创建解码器
// 正常路径由 StreamChat 调用，测试时可直接喂入构造好的字节流
func NewStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	// 单条消息内容可能较长，放宽扫描缓冲上限
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{
		body:    body,
		scanner: scanner,
	}
}
