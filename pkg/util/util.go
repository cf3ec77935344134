// Package util 提供通用工具函数
package util

import (
	"strings"

	"github.com/google/uuid"
)

// upstreamIDPrefix 上游用户标识的固定前缀
const upstreamIDPrefix = "stu_"

// UpstreamUserID 由学生姓名确定性地派生上游用户标识
// 同一个学生在上游永远映射到同一个身份，Coze 后台才能按学生区分记忆
// 姓名先做空白归一化（去首尾空白、内部空白折叠为下划线）再加固定前缀
// 参数:
//   - userName: 学生姓名
//
// 返回:
//   - string: 上游用户标识，如 "stu_ZhangSan"
func UpstreamUserID(userName string) string {
	fields := strings.Fields(userName)
	return upstreamIDPrefix + strings.Join(fields, "_")
}

// GenerateTurnID 生成一轮对话的请求标识
// 用于日志中串联同一轮的各条记录
// 返回:
//   - string: UUID 字符串（不含连字符）
func GenerateTurnID() string {
	// uuid.New() 生成 UUID v4（随机生成）
	// 去掉连字符使其更紧凑
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TruncateString 截断字符串到指定长度
// 如果字符串超过指定长度，截断并添加 "..."
// 用于日志中展示消息内容片段
// 参数:
//   - s: 原字符串
//   - maxLen: 最大长度
//
// 返回:
//   - string: 截断后的字符串
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
