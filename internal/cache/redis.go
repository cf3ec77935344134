// Package cache 提供 Redis 缓存操作的封装
// 处理在线学生名单、会话令牌、JWT 黑名单等需要快速访问的数据
// 缓存只是辅助设施：所有操作失败都不应阻断对话流程
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"talk-tutor-server/internal/config"
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.Username, // 阿里云 Redis 需要用户名
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// ==================== 在线学生名单 ====================
// 使用 Redis Set 存储在线学生，供教师端查看课堂状态

// SetStudentOnline 标记学生在线
// 登录成功时调用
// 参数:
//   - ctx: 上下文
//   - name: 归一化后的学生姓名
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) SetStudentOnline(ctx context.Context, name string) error {
	// SADD 如果元素已存在，不会重复添加
	return c.client.SAdd(ctx, "online:students", name).Err()
}

// SetStudentOffline 标记学生离线
// 登出时调用
func (c *RedisCache) SetStudentOffline(ctx context.Context, name string) error {
	// SREM 如果元素不存在，不会报错
	return c.client.SRem(ctx, "online:students", name).Err()
}

// ListOnlineStudents 获取在线学生名单
// 返回:
//   - []string: 归一化后的学生姓名列表
//   - error: Redis 操作错误
func (c *RedisCache) ListOnlineStudents(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, "online:students").Result()
}

// ==================== 会话令牌 ====================
// 记录每个学生最近一轮捕获的上游会话令牌
// 内存会话是权威来源，这里只是跨实例部署时的备份

// SetConversationID 记录学生的会话令牌
// 参数:
//   - ctx: 上下文
//   - name: 归一化后的学生姓名
//   - conversationID: 上游会话令牌
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) SetConversationID(ctx context.Context, name, conversationID string) error {
	// 一节课内有效即可，过期自动清理
	return c.client.Set(ctx, fmt.Sprintf("student:%s:conversation", name), conversationID, 4*time.Hour).Err()
}

// GetConversationID 获取学生的会话令牌
// 没有记录时返回空串
func (c *RedisCache) GetConversationID(ctx context.Context, name string) (string, error) {
	result, err := c.client.Get(ctx, fmt.Sprintf("student:%s:conversation", name)).Result()
	if err == redis.Nil {
		return "", nil // 没有记录
	}
	return result, err
}

// ClearConversationID 清除学生的会话令牌
// 每次登录时调用：跨登录不保留上游记忆
func (c *RedisCache) ClearConversationID(ctx context.Context, name string) error {
	return c.client.Del(ctx, fmt.Sprintf("student:%s:conversation", name)).Err()
}

// ==================== JWT 黑名单 ====================
// 用于实现 Token 强制失效（登出）功能

// BlacklistToken 将 Token 加入黑名单
// 登出时调用，使当前 Token 失效
// 参数:
//   - ctx: 上下文
//   - tokenHash: Token 的哈希值（不存储原始 Token）
//   - expireAt: Token 的原始过期时间
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	// 计算剩余有效时间
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		// Token 已过期，无需加入黑名单
		return nil
	}

	// TTL 设置为 Token 的剩余有效期，过期后自动删除（因为 Token 本身也过期了）
	return c.client.Set(ctx, fmt.Sprintf("jwt:blacklist:%s", tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
// JWT 验证中间件调用
// 参数:
//   - ctx: 上下文
//   - tokenHash: Token 的哈希值
//
// 返回:
//   - bool: 是否在黑名单中
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	// EXISTS 命令返回存在的 Key 数量
	return c.client.Exists(ctx, fmt.Sprintf("jwt:blacklist:%s", tokenHash)).Val() > 0
}

// ==================== 通用方法 ====================

// Ping 检查 Redis 连接
// 参数:
//   - ctx: 上下文
//
// 返回:
//   - error: 如果连接失败返回错误
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
