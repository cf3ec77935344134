// Package middleware 提供 HTTP 请求的中间件
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"talk-tutor-server/internal/cache"
	"talk-tutor-server/pkg/jwt"
	"talk-tutor-server/pkg/response"
)

// AuthMiddleware 创建 JWT 认证中间件
// 验证请求头中的 Bearer Token，并将学生身份存入上下文
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//   - redisCache: Redis 缓存实例，用于检查 Token 黑名单
//
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func AuthMiddleware(jwtService *jwt.JWTService, redisCache *cache.RedisCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从请求头获取 Authorization 字段
		// 格式: "Bearer <token>"
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.NotLoggedIn(c)
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "认证格式错误")
			c.Abort()
			return
		}
		tokenString := parts[1]

		// 解析 JWT 并验证签名和过期时间
		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token 无效或已过期")
			c.Abort()
			return
		}

		// 登出后 Token 会被加入黑名单
		// 只存 Token 的哈希值，不存原始 Token
		tokenHash := HashToken(tokenString)
		if redisCache != nil && redisCache.IsTokenBlacklisted(c.Request.Context(), tokenHash) {
			response.Unauthorized(c, "Token 已失效，请重新登录")
			c.Abort()
			return
		}

		// 将学生身份存入上下文，供后续 Handler 使用
		c.Set("student_name", claims.Name)
		c.Set("display_name", claims.DisplayName)
		c.Set("token", tokenString)          // 登出时计算哈希用
		c.Set("token_exp", claims.ExpiresAt.Time) // 登出时设置黑名单 TTL 用

		c.Next()
	}
}

// HashToken 计算 Token 的 SHA256 哈希值
// 用于黑名单存储，避免存储原始 Token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// GetStudentName 从上下文获取归一化后的学生姓名
// 参数:
//   - c: Gin 上下文
//
// 返回:
//   - string: 学生姓名，未认证时返回空串
func GetStudentName(c *gin.Context) string {
	name, exists := c.Get("student_name")
	if !exists {
		return ""
	}
	return name.(string)
}

// GetDisplayName 从上下文获取学生姓名的原始写法
func GetDisplayName(c *gin.Context) string {
	name, exists := c.Get("display_name")
	if !exists {
		return ""
	}
	return name.(string)
}
