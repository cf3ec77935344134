// Package transcript 提供转录表的读写适配层
// 负责角色标签映射、写入抖动与重试，以及读失败时的降级处理
// 所有失败都被拦在本层边界内：写失败降级为非阻塞警告，读失败降级为空历史
package transcript

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"talk-tutor-server/internal/model"
	"talk-tutor-server/internal/repository"
)

// 写入策略默认值
const (
	defaultMaxAttempts   = 3                      // 最多写 3 次
	defaultRetryInterval = 2 * time.Second        // 重试间隔约 2 秒
	defaultJitterMin     = 100 * time.Millisecond // 写前抖动下限
	defaultJitterMax     = 500 * time.Millisecond // 写前抖动上限
)

// AppendResult 一次写入的结果
// 写入永远不抛出错误，调用方根据 Persisted 判断是否需要提示
type AppendResult struct {
	// Persisted 是否成功落表
	Persisted bool

	// Attempts 实际尝试次数
	Attempts int

	// Err 最后一次失败的原因（Persisted 为 true 时为 nil）
	Err error
}

// Store 转录表适配器
// 在 RowStore 之上实现消息与表格行的互相转换
type Store struct {
	rows repository.RowStore

	maxAttempts   int
	retryInterval time.Duration
	jitterMin     time.Duration
	jitterMax     time.Duration

	// sleep 可在测试中替换，避免真实等待
	sleep func(time.Duration)
}

// New 创建 Store 实例
// rows 允许为 nil（转录表未配置或启动时连接失败）
// 此时写入直接报告未持久化，读取返回空历史
func New(rows repository.RowStore) *Store {
	return &Store{
		rows:          rows,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
		jitterMin:     defaultJitterMin,
		jitterMax:     defaultJitterMax,
		sleep:         time.Sleep,
	}
}

// Available 转录表是否可用
func (s *Store) Available() bool {
	return s.rows != nil
}

// Append 追加一条转录记录
// 写入前先随机等待一小段时间，错开多个学生同时提交时的写入峰值
// （多人共用一张表，抖动只是统计上的削峰，不是正确性保证）
// 失败后按固定间隔重试，用尽次数后降级为警告日志
// 参数:
//   - ctx: 上下文
//   - userName: 学生姓名
//   - role: 消息角色
//   - content: 消息内容
//
// 返回:
//   - AppendResult: 写入结果，永远不为错误返回
func (s *Store) Append(ctx context.Context, userName string, role model.Role, content string) AppendResult {
	if s.rows == nil {
		return AppendResult{Persisted: false, Attempts: 0, Err: repository.ErrStoreUnavailable}
	}

	// 写前抖动
	jitter := s.jitterMin + time.Duration(rand.Int63n(int64(s.jitterMax-s.jitterMin)))
	s.sleep(jitter)

	row := &model.TranscriptRow{
		RecordedAt: time.Now(),
		UserName:   userName,
		RoleLabel:  role.Label(),
		Content:    content,
	}
	values := row.Values()

	attempts := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), uint64(s.maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempts++
		return s.rows.AppendRow(ctx, values)
	}, policy)

	if err != nil {
		// 写入失败不影响对话继续，只在后台记录
		log.Printf("[WARN] transcript append failed after %d attempts (user=%s): %v", attempts, userName, err)
		return AppendResult{Persisted: false, Attempts: attempts, Err: err}
	}
	return AppendResult{Persisted: true, Attempts: attempts}
}

// LoadAll 加载一个学生的全部历史消息
// 全量读取表格，跳过表头行，按姓名过滤（去除首尾空白、不区分大小写）
// 角色标签通过 RoleFromLabel 映射，行顺序即消息顺序
// 任何读取错误都降级为空历史，不向调用方传播
// 参数:
//   - ctx: 上下文
//   - userName: 学生姓名
//
// 返回:
//   - []model.Message: 历史消息，读取失败时为空切片
func (s *Store) LoadAll(ctx context.Context, userName string) []model.Message {
	if s.rows == nil {
		return []model.Message{}
	}

	values, err := s.rows.AllValues(ctx)
	if err != nil {
		log.Printf("[WARN] transcript load failed (user=%s): %v", userName, err)
		return []model.Message{}
	}

	want := strings.ToLower(strings.TrimSpace(userName))
	messages := make([]model.Message, 0)

	// 第一行是表头，跳过
	for i, row := range values {
		if i == 0 {
			continue
		}
		if len(row) < 4 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(row[1])) != want {
			continue
		}

		createdAt, err := time.ParseInLocation("2006-01-02 15:04:05", row[0], time.Local)
		if err != nil {
			createdAt = time.Time{}
		}
		messages = append(messages, model.Message{
			Role:      model.RoleFromLabel(row[2]),
			Content:   row[3],
			CreatedAt: createdAt,
		})
	}
	return messages
}
