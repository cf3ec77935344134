// Package coze 提供 Coze 对话接口的客户端与流式响应解码
package coze

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// 事件流中的帧类型
// delta 帧携带增量文本；completed 帧在流结束后复述全文，必须丢弃，
// 否则会把已经流式输出过的内容重复计入一遍
const (
	eventDelta     = "conversation.message.delta"     // 增量文本帧
	eventCompleted = "conversation.message.completed" // 全文复述帧（丢弃）
	eventCreated   = "conversation.chat.created"      // 会话创建帧（携带会话令牌）

	// doneSentinel 流结束哨兵，不是内容
	doneSentinel = "[DONE]"
)

// frameKind 归一化后的帧类型
type frameKind int

const (
	frameOther     frameKind = iota // 其他帧，不产生输出
	frameDelta                      // 增量文本帧
	frameCompleted                  // 全文复述帧
	frameCreated                    // 会话创建帧
)

// frame 归一化后的帧
// 上游的帧有两种物理形态：
//  1. 单独的 "event:" 行 + "data:" JSON 行
//  2. 自描述的 JSON（自带 event 或 type 字段）
//
// 两种形态都先归一化成这个结构，再做 delta-only 过滤
type frame struct {
	Event          string          `json:"event"`
	Type           string          `json:"type"`
	Content        string          `json:"content"`
	ConversationID string          `json:"conversation_id"`
	Data           json.RawMessage `json:"data"`
}

// Stream 流式响应解码器
// 把事件流解码成一串增量文本，每次 Recv 返回一段
// 流不可重入：读到结尾或连接失败后即终止，下一轮对话需要重新发起
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	// lastEvent 最近一次见到的 event 行
	// 帧类型和内容可能分两个物理行到达，需要跨行记住
	lastEvent string

	conversationID string
	done           bool
	errored        bool
}

// Recv 返回下一段增量文本
// 只有 delta 帧产生输出；completed / created / 其他帧都被吞掉
// 无法解析的帧静默跳过，不中断整个流
// 连接级失败时返回一段合成的错误文本，之后流终止
// 返回:
//   - string: 增量文本
//   - error: 流正常结束时为 io.EOF
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		// 记住单独到达的 event 行，供后续 data 行分类使用
		if strings.HasPrefix(line, "event:") {
			s.lastEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		// 结束哨兵，忽略为内容
		if payload == doneSentinel {
			s.finish()
			return "", io.EOF
		}

		text, ok := s.decodeFrame(payload)
		if ok {
			return text, nil
		}
	}

	// 扫描结束：正常关闭或连接失败
	err := s.scanner.Err()
	s.finish()
	if err != nil && !s.errored {
		s.errored = true
		// 连接级失败：产出一段合成错误文本，然后终止
		return "💥 出错: " + err.Error(), nil
	}
	return "", io.EOF
}

// decodeFrame 解析并分类一个 data 帧
// 返回该帧贡献的增量文本；非 delta 帧和坏帧都返回 false
func (s *Stream) decodeFrame(payload string) (string, bool) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		// 坏帧跳过，不中断解码
		return "", false
	}

	switch s.classify(&f) {
	case frameDelta:
		return f.Content, true
	case frameCreated:
		s.captureConversationID(&f)
		return "", false
	default:
		// completed 帧复述的是已经流式输出过的全文，丢弃
		return "", false
	}
}

// classify 判定帧类型
// 优先看帧自带的 event 字段，其次回退到最近的 event 行
// 都没有时，type=="answer" 视为扁平形态的 delta 帧
// 注意顺序：completed 帧的 type 也可能是 "answer"，
// 所以 event 判定必须先于 type 判定
func (s *Stream) classify(f *frame) frameKind {
	event := f.Event
	if event == "" {
		event = s.lastEvent
	}

	switch event {
	case eventDelta:
		return frameDelta
	case eventCompleted:
		return frameCompleted
	case eventCreated:
		return frameCreated
	}
	if event == "" && f.Type == "answer" {
		return frameDelta
	}
	return frameOther
}

// captureConversationID 从会话创建帧中捕获会话令牌
// 令牌可能在顶层字段，也可能嵌在 data 对象里
func (s *Stream) captureConversationID(f *frame) {
	if s.conversationID != "" {
		return
	}
	if f.ConversationID != "" {
		s.conversationID = f.ConversationID
		return
	}
	if len(f.Data) > 0 {
		var data struct {
			ConversationID string `json:"conversation_id"`
		}
		if err := json.Unmarshal(f.Data, &data); err == nil {
			s.conversationID = data.ConversationID
		}
	}
}

// ConversationID 返回本轮捕获的会话令牌
// 上游没有下发时返回空串，下一轮按无记忆上下文处理
func (s *Stream) ConversationID() string {
	return s.conversationID
}

// finish 标记流结束并释放连接
func (s *Stream) finish() {
	if !s.done {
		s.done = true
		s.body.Close()
	}
}

// Close 关闭流
// 重复调用是安全的
func (s *Stream) Close() error {
	s.finish()
	return nil
}
