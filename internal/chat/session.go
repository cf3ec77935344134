// Package chat 维护登录学生的内存会话状态
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"talk-tutor-server/internal/model"
)

// Session 一个已登录学生的会话
// 消息列表是只追加的有序序列，持久化的转录表才是事实来源，
// 这里只是进程内缓存，进程重启后可以从转录表完整重建
type Session struct {
	// UserName 学生姓名（登录时输入的原始写法）
	UserName string

	// StartedAt 登录时间
	StartedAt time.Time

	mu             sync.Mutex
	messages       []model.Message
	conversationID string

	// processing 标记当前是否有一轮对话在进行中
	// 提交入口用 CAS 把关，防止上一轮未完成时重入
	processing atomic.Bool
}

// NewSession 创建 Session 实例
// history 为登录时从转录表加载的历史消息
func NewSession(userName string, history []model.Message) *Session {
	s := &Session{
		UserName:  userName,
		StartedAt: time.Now(),
	}
	s.messages = append(s.messages, history...)
	return s
}

// Append 追加一条消息
func (s *Session) Append(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages 返回消息列表的快照
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]model.Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

// Len 返回消息数量
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastMessage 返回最后一条消息
// 会话为空时第二个返回值为 false
func (s *Session) LastMessage() (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return model.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// LastStudentContent 返回最近一条学生消息的内容
// 用于重复提交抑制：AI 的回复不参与比较
// 没有学生消息时第二个返回值为 false
func (s *Session) LastStudentContent() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == model.RoleStudent {
			return s.messages[i].Content, true
		}
	}
	return "", false
}

// Window 返回最近 n 条消息的快照
// 超出窗口的旧消息不会发给上游，但仍保留在本地和转录表中
func (s *Session) Window(n int) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.messages) > n {
		start = len(s.messages) - n
	}
	snapshot := make([]model.Message, len(s.messages)-start)
	copy(snapshot, s.messages[start:])
	return snapshot
}

// ConversationID 返回当前会话令牌
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversationID 更新会话令牌
// 空值不覆盖已有令牌
func (s *Session) SetConversationID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// BeginTurn 尝试进入新的一轮对话
// 返回 false 表示已有一轮在进行中，本次提交应被拒绝
func (s *Session) BeginTurn() bool {
	return s.processing.CompareAndSwap(false, true)
}

// EndTurn 结束当前轮
func (s *Session) EndTurn() {
	s.processing.Store(false)
}

// Processing 当前是否有一轮对话在进行中
func (s *Session) Processing() bool {
	return s.processing.Load()
}

// clear 清空会话状态（登出时调用）
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.conversationID = ""
}
