// Package repository 提供转录表的数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"talk-tutor-server/internal/model"
)

// TranscriptRepository MySQL 后端的转录表实现
// 把 transcript_rows 表当作一张只追加的表格使用
type TranscriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository 创建 TranscriptRepository 实例
func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// AppendRow 追加一行转录记录
// values 的列顺序为 [时间, 姓名, 角色, 内容]
// 时间列由调用方格式化，入库时重新解析；解析失败时退回当前时间
// 参数:
//   - ctx: 上下文
//   - values: 一行的值
//
// 返回:
//   - error: 数据库错误
func (r *TranscriptRepository) AppendRow(ctx context.Context, values []string) error {
	if len(values) < 4 {
		return ErrStoreUnavailable
	}

	recordedAt, err := time.ParseInLocation("2006-01-02 15:04:05", values[0], time.Local)
	if err != nil {
		recordedAt = time.Now()
	}

	row := &model.TranscriptRow{
		RecordedAt: recordedAt,
		UserName:   values[1],
		RoleLabel:  values[2],
		Content:    values[3],
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// AllValues 全量读取转录表
// 与外部表格的契约保持一致：第一行返回固定表头，之后是数据行
// 数据行按主键正序排列（即插入顺序）
// 参数:
//   - ctx: 上下文
//
// 返回:
//   - [][]string: 表格内容（含表头行）
//   - error: 数据库错误
func (r *TranscriptRepository) AllValues(ctx context.Context) ([][]string, error) {
	var rows []model.TranscriptRow
	err := r.db.WithContext(ctx).
		Order("id ASC"). // 按插入顺序，保证消息顺序
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	values := make([][]string, 0, len(rows)+1)
	values = append(values, model.TranscriptColumns)
	for i := range rows {
		values = append(values, rows[i].Values())
	}
	return values, nil
}
