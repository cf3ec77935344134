// Package repository 提供转录表的数据访问层
package repository

import (
	"context"
	"errors"
)

// 转录表相关错误
var (
	// ErrStoreUnavailable 转录表不可用（未配置或连接失败）
	ErrStoreUnavailable = errors.New("转录表不可用")
)

// RowStore 转录表的窄契约
// 外部表格只支持两种操作：末尾追加一行、全量读取
// 具体后端（MySQL 表、表格网关）都实现这个接口
type RowStore interface {
	// AppendRow 在表末尾追加一行
	// 参数:
	//   - ctx: 上下文
	//   - values: 一行的值，列顺序为 [时间, 姓名, 角色, 内容]
	//
	// 返回:
	//   - error: 写入错误
	AppendRow(ctx context.Context, values []string) error

	// AllValues 全量读取表格内容
	// 返回的第一行是表头，调用方读取数据时需要跳过
	// 参数:
	//   - ctx: 上下文
	//
	// 返回:
	//   - [][]string: 表格内容（含表头行），按插入顺序排列
	//   - error: 读取错误
	AllValues(ctx context.Context) ([][]string, error)
}
