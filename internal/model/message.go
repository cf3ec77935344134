// Package model 定义了会话消息和转录行的数据结构
package model

import (
	"time"
)

// Role 消息角色
// 只有两种取值：学生和 AI 导师
type Role string

// 消息角色常量
const (
	RoleStudent   Role = "student"   // 学生发送的消息
	RoleAssistant Role = "assistant" // AI 导师的响应
)

// 转录行中的角色标签
// 写入外部转录表时使用中文标签，与历史数据保持一致
const (
	LabelStudent   = "学生"   // 学生角色标签
	LabelAssistant = "AI导师" // AI 导师角色标签
)

// RoleFromLabel 将转录行中的角色标签映射为 Role
// 标签是自由文本，历史数据中存在多种写法
// 任何无法识别的标签一律归为 AI 导师（沿用历史数据的处理方式）
// 参数:
//   - label: 转录行中的角色标签
//
// 返回:
//   - Role: 映射后的角色
func RoleFromLabel(label string) Role {
	switch label {
	case "Student", "学生":
		return RoleStudent
	case "AI", "AI导师":
		return RoleAssistant
	default:
		// 未知标签默认归为 AI 导师
		return RoleAssistant
	}
}

// Label 返回角色写入转录表时使用的标签
func (r Role) Label() string {
	if r == RoleStudent {
		return LabelStudent
	}
	return LabelAssistant
}

// Upstream 返回角色在上游 AI 接口中的名称
// Coze 接口要求 "user" / "assistant"
func (r Role) Upstream() string {
	if r == RoleStudent {
		return "user"
	}
	return "assistant"
}

// Message 会话消息
// 属于内存中的 Session，追加后不再修改
type Message struct {
	// Role 消息角色
	Role Role `json:"role"`

	// Content 消息内容
	Content string `json:"content"`

	// CreatedAt 消息创建时间
	CreatedAt time.Time `json:"created_at"`
}
