// Package main 是服务端的入口点
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"talk-tutor-server/internal/cache"
	"talk-tutor-server/internal/chat"
	"talk-tutor-server/internal/config"
	"talk-tutor-server/internal/coze"
	"talk-tutor-server/internal/handler"
	"talk-tutor-server/internal/middleware"
	"talk-tutor-server/internal/model"
	"talk-tutor-server/internal/repository"
	"talk-tutor-server/internal/service"
	"talk-tutor-server/internal/transcript"
	"talk-tutor-server/internal/websocket"
	"talk-tutor-server/pkg/jwt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化转录表后端
	// 连接失败只降级为警告：没有转录表时对话照常，只是不留记录
	rowStore := initRowStore(cfg)
	transcriptStore := transcript.New(rowStore)
	if !transcriptStore.Available() {
		log.Printf("[WARN] transcript store unavailable, chat will continue without persistence")
	}

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		log.Fatalf("Failed to init redis: %v", err)
	}

	// 初始化 JWT 服务
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpire)

	// 初始化 Coze 客户端
	cozeClient := coze.NewClient(cfg.Coze.BaseURL, cfg.Coze.APIToken, cfg.Coze.BotID, cfg.Coze.StreamTimeout)

	// 初始化 Service 层
	registry := chat.NewRegistry()
	chatService := service.NewChatService(cfg, registry, transcriptStore, cozeClient, redisCache, jwtService)

	// 初始化 Handler 层
	authHandler := handler.NewAuthHandler(chatService)
	chatHandler := handler.NewChatHandler(chatService)
	wsHandler := websocket.NewHandler(chatService, jwtService)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())                // 恢复 panic
	router.Use(middleware.LoggerMiddleware()) // 请求日志
	router.Use(middleware.CORSMiddleware())   // CORS

	// 注册路由
	registerRoutes(router, jwtService, redisCache, authHandler, chatHandler, wsHandler)

	// 创建 HTTP 服务器
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// 写超时要覆盖整轮流式响应，不能用普通接口的短超时
		WriteTimeout: cfg.Coze.StreamTimeout + 30*time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := redisCache.Close(); err != nil {
		log.Printf("Failed to close redis: %v", err)
	}

	log.Println("Server exited")
}

// initRowStore 按配置初始化转录表后端
// 任何失败都返回 nil（降级为不持久化），不让进程退出
func initRowStore(cfg *config.Config) repository.RowStore {
	switch cfg.Transcript.Backend {
	case "bridge":
		if cfg.Transcript.BridgeURL == "" {
			log.Printf("[WARN] transcript bridge url not configured")
			return nil
		}
		return repository.NewSheetBridge(cfg.Transcript.BridgeURL, cfg.Transcript.BridgeTimeout)

	case "mysql":
		db, err := initDatabase(cfg)
		if err != nil {
			log.Printf("[WARN] failed to init database: %v", err)
			return nil
		}
		if err := autoMigrate(db); err != nil {
			log.Printf("[WARN] failed to migrate database: %v", err)
			return nil
		}
		return repository.NewTranscriptRepository(db)

	default:
		log.Printf("[WARN] unknown transcript backend: %s", cfg.Transcript.Backend)
		return nil
	}
}

// initDatabase 初始化数据库连接
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	// 构建 DSN (Data Source Name)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.MySQL.Username,
		cfg.MySQL.Password,
		cfg.MySQL.Host,
		cfg.MySQL.Port,
		cfg.MySQL.Database,
		cfg.MySQL.Charset,
	)

	// 配置 GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	// 连接数据库
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.MaxLifetime) * time.Second)

	log.Println("Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&model.TranscriptRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	log.Println("Database migrations completed")
	return nil
}

// registerRoutes 注册所有路由
func registerRoutes(
	router *gin.Engine,
	jwtService *jwt.JWTService,
	redisCache *cache.RedisCache,
	authHandler *handler.AuthHandler,
	chatHandler *handler.ChatHandler,
	wsHandler *websocket.Handler,
) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 路由组
	v1 := router.Group("/api/v1")

	// 认证相关（无需登录）
	auth := v1.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	// 登出需要携带有效 Token
	authed := v1.Group("/auth")
	authed.Use(middleware.AuthMiddleware(jwtService, redisCache))
	{
		authed.POST("/logout", authHandler.Logout)
	}

	// 对话相关（需要登录）
	chatGroup := v1.Group("/chat")
	chatGroup.Use(middleware.AuthMiddleware(jwtService, redisCache))
	{
		chatGroup.POST("", chatHandler.Submit)
		chatGroup.GET("/history", chatHandler.History)
	}

	// 课堂相关（需要登录）
	class := v1.Group("/class")
	class.Use(middleware.AuthMiddleware(jwtService, redisCache))
	{
		class.GET("/online", chatHandler.Online)
	}

	// WebSocket 路由
	wsHandler.RegisterRoutes(router)
}
