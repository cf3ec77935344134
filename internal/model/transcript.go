// Package model 定义了会话消息和转录行的数据结构
package model

import (
	"time"
)

// TranscriptColumns 转录表的固定列
// 第一行保留为表头，读取时跳过
var TranscriptColumns = []string{"时间", "姓名", "角色", "内容"}

// TranscriptRow 转录行模型
// 对应数据库表 transcript_rows
// 每条消息写入一行，只追加，不更新、不删除
// 列顺序与外部表格保持一致：[时间, 姓名, 角色, 内容]
type TranscriptRow struct {
	// ID 自增主键
	ID int64 `gorm:"primaryKey" json:"id"`

	// RecordedAt 记录时间（服务端本地时间）
	RecordedAt time.Time `gorm:"autoCreateTime;index" json:"recorded_at"`

	// UserName 学生姓名
	// 读取时按去除首尾空白后不区分大小写匹配
	UserName string `gorm:"size:100;not null;index" json:"user_name"`

	// RoleLabel 角色标签
	// 自由文本，通过 RoleFromLabel 映射为 Role
	RoleLabel string `gorm:"size:50;not null" json:"role_label"`

	// Content 消息内容
	Content string `gorm:"type:text;not null" json:"content"`
}

// TableName 指定表名
func (TranscriptRow) TableName() string {
	return "transcript_rows"
}

// Values 按转录表的列顺序返回一行的值
func (r *TranscriptRow) Values() []string {
	return []string{
		r.RecordedAt.Format("2006-01-02 15:04:05"),
		r.UserName,
		r.RoleLabel,
		r.Content,
	}
}
