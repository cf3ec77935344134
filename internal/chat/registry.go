// Package chat 维护登录学生的内存会话状态
package chat

import (
	"strings"
	"sync"

	"talk-tutor-server/internal/model"
)

// NormalizeName 归一化学生姓名
// 去除首尾空白并转为小写，作为会话和转录记录的身份键
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry 会话注册表
// 按归一化姓名索引所有在线学生的会话
// 同一学生重复登录会替换旧会话（重新拉取历史、清空会话令牌）
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry 创建 Registry 实例
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create 创建并登记一个新会话
// 参数:
//   - userName: 学生姓名（原始写法）
//   - history: 登录时加载的历史消息
//
// 返回:
//   - *Session: 新会话
func (r *Registry) Create(userName string, history []model.Message) *Session {
	session := NewSession(userName, history)
	key := NormalizeName(userName)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[key]; ok {
		old.clear()
	}
	r.sessions[key] = session
	return session
}

// Get 查找学生的会话
// 返回:
//   - *Session: 会话，未登录时为 nil
func (r *Registry) Get(userName string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[NormalizeName(userName)]
}

// Remove 注销学生的会话并清空其状态
func (r *Registry) Remove(userName string) {
	key := NormalizeName(userName)

	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[key]; ok {
		session.clear()
		delete(r.sessions, key)
	}
}

// Count 返回在线会话数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
