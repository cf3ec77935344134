// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"talk-tutor-server/internal/cache"
	"talk-tutor-server/internal/chat"
	"talk-tutor-server/internal/config"
	"talk-tutor-server/internal/coze"
	"talk-tutor-server/internal/model"
	"talk-tutor-server/internal/transcript"
	"talk-tutor-server/pkg/jwt"
	"talk-tutor-server/pkg/util"
)

// 对话服务相关错误
var (
	ErrEmptyName     = errors.New("姓名不能为空")
	ErrPasswordWrong = errors.New("班级暗号错误")
	ErrNotLoggedIn   = errors.New("尚未登录")
	ErrEmptyInput    = errors.New("输入内容为空")
	ErrTurnInFlight  = errors.New("上一轮对话还在进行中")
)

// emptyReplyPlaceholder 流结束后解码文本为空时的占位回复
const emptyReplyPlaceholder = "🤔 AI 思考中..."

// ChatStreamer 发起一轮流式对话的抽象
// 生产环境由 coze.Client 实现，测试中可以喂入构造好的事件流
type ChatStreamer interface {
	StreamChat(ctx context.Context, userID, conversationID string, messages []coze.ChatMessage) (*coze.Stream, error)
}

// ChatService 对话服务
// 负责登录时的会话重建、每轮对话的编排，以及向转录表的落盘
type ChatService struct {
	registry *chat.Registry    // 在线会话注册表
	store    *transcript.Store // 转录表适配器
	ai       ChatStreamer      // 上游对话客户端
	cache    *cache.RedisCache // Redis 缓存（可为 nil）
	jwt      *jwt.JWTService   // JWT 服务

	classPassword string // 班级暗号
	welcome       string // 欢迎语
	contextWindow int    // 上游上下文窗口（消息条数）
}

// NewChatService 创建 ChatService 实例
func NewChatService(
	cfg *config.Config,
	registry *chat.Registry,
	store *transcript.Store,
	ai ChatStreamer,
	redisCache *cache.RedisCache,
	jwtService *jwt.JWTService,
) *ChatService {
	return &ChatService{
		registry:      registry,
		store:         store,
		ai:            ai,
		cache:         redisCache,
		jwt:           jwtService,
		classPassword: cfg.Class.Password,
		welcome:       cfg.Class.Welcome,
		contextWindow: cfg.Class.ContextWindow,
	}
}

// LoginResult 登录结果
type LoginResult struct {
	Token       string          `json:"token"`        // 学生的访问令牌
	Name        string          `json:"name"`         // 归一化后的姓名
	DisplayName string          `json:"display_name"` // 姓名原始写法
	Messages    []model.Message `json:"messages"`     // 历史消息（空历史时含欢迎语）
	StoreReady  bool            `json:"store_ready"`  // 转录表是否可用
}

// Login 学生登录
// 校验姓名非空、暗号精确匹配，然后从转录表重建历史会话
// 历史为空时播种一条欢迎语；会话令牌在每次登录时清零（跨登录不保留上游记忆）
// 参数:
//   - ctx: 上下文
//   - name: 学生姓名
//   - password: 班级暗号
//
// 返回:
//   - *LoginResult: 登录结果
//   - error: ErrEmptyName / ErrPasswordWrong
func (s *ChatService) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	displayName := strings.TrimSpace(name)
	if displayName == "" {
		return nil, ErrEmptyName
	}
	// 班级暗号只是访问门槛，按字符串精确比较
	if password != s.classPassword {
		return nil, ErrPasswordWrong
	}

	// 从转录表重建历史（读失败降级为空历史，登录照常进行）
	history := s.store.LoadAll(ctx, displayName)
	if len(history) == 0 {
		history = []model.Message{{
			Role:      model.RoleAssistant,
			Content:   s.welcome,
			CreatedAt: time.Now(),
		}}
	}

	session := s.registry.Create(displayName, history)
	normalized := chat.NormalizeName(displayName)

	// 缓存操作失败不阻断登录
	if s.cache != nil {
		if err := s.cache.ClearConversationID(ctx, normalized); err != nil {
			log.Printf("[WARN] clear conversation id failed (user=%s): %v", normalized, err)
		}
		if err := s.cache.SetStudentOnline(ctx, normalized); err != nil {
			log.Printf("[WARN] set student online failed (user=%s): %v", normalized, err)
		}
	}

	token, err := s.jwt.GenerateAccessToken(normalized, displayName)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] student logged in: %s (%d history messages)", normalized, session.Len())
	return &LoginResult{
		Token:       token,
		Name:        normalized,
		DisplayName: displayName,
		Messages:    session.Messages(),
		StoreReady:  s.store.Available(),
	}, nil
}

// Logout 学生登出
// 注销会话并清空其状态，Token 加入黑名单
// 参数:
//   - ctx: 上下文
//   - name: 归一化后的学生姓名
//   - tokenHash: 当前 Token 的哈希
//   - expireAt: 当前 Token 的过期时间
func (s *ChatService) Logout(ctx context.Context, name, tokenHash string, expireAt time.Time) {
	s.registry.Remove(name)

	if s.cache != nil {
		if err := s.cache.SetStudentOffline(ctx, name); err != nil {
			log.Printf("[WARN] set student offline failed (user=%s): %v", name, err)
		}
		if err := s.cache.ClearConversationID(ctx, name); err != nil {
			log.Printf("[WARN] clear conversation id failed (user=%s): %v", name, err)
		}
		if tokenHash != "" {
			if err := s.cache.BlacklistToken(ctx, tokenHash, expireAt); err != nil {
				log.Printf("[WARN] blacklist token failed (user=%s): %v", name, err)
			}
		}
	}
	log.Printf("[INFO] student logged out: %s", name)
}

// TurnResult 一轮对话的结果
type TurnResult struct {
	// Reply 最终提交的 AI 回复全文
	Reply string `json:"reply"`

	// Suppressed 是否因重复提交被抑制（未产生新消息、未调用上游）
	Suppressed bool `json:"suppressed"`

	// StudentPersisted 学生消息是否成功落表
	StudentPersisted bool `json:"student_persisted"`

	// ReplyPersisted AI 回复是否成功落表
	ReplyPersisted bool `json:"reply_persisted"`
}

// Persisted 本轮的两条消息是否都已落表
func (r *TurnResult) Persisted() bool {
	return r.StudentPersisted && r.ReplyPersisted
}

// SubmitTurn 提交一轮对话
// 状态机：Idle → Submitted → Awaiting → Committing → Idle
// 每段增量文本通过 emit 回调实时交给调用方渲染
// 连接失败不中断会话：以一条合成的错误回复结束本轮
// 参数:
//   - ctx: 上下文
//   - name: 归一化后的学生姓名
//   - content: 学生输入
//   - emit: 增量文本回调，可为 nil
//
// 返回:
//   - *TurnResult: 本轮结果
//   - error: ErrNotLoggedIn / ErrEmptyInput / ErrTurnInFlight
func (s *ChatService) SubmitTurn(ctx context.Context, name, content string, emit func(delta string)) (*TurnResult, error) {
	session := s.registry.Get(name)
	if session == nil {
		return nil, ErrNotLoggedIn
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyInput
	}
	if emit == nil {
		emit = func(string) {}
	}

	// Idle → Submitted：同一会话一次只允许一轮在进行
	if !session.BeginTurn() {
		return nil, ErrTurnInFlight
	}
	defer session.EndTurn()

	// 重复提交抑制：与上一条学生消息逐字相同时整轮跳过
	// 这是针对外层控制流重入的保护，按内容精确比较，不做时间窗判断
	if last, ok := session.LastStudentContent(); ok && last == content {
		log.Printf("[INFO] duplicate turn suppressed (user=%s)", name)
		return &TurnResult{Suppressed: true}, nil
	}

	turnID := util.GenerateTurnID()

	// 先乐观地把学生消息写入本地会话，再异步落表
	// 落表失败只降级为警告，不阻塞本轮对话
	session.Append(model.Message{
		Role:      model.RoleStudent,
		Content:   content,
		CreatedAt: time.Now(),
	})
	studentCh := make(chan transcript.AppendResult, 1)
	go func() {
		studentCh <- s.store.Append(context.Background(), session.UserName, model.RoleStudent, content)
	}()

	// 上下文窗口：只把最近的若干条消息发给上游
	// 更早的消息仍保留在本地会话和转录表里
	window := session.Window(s.contextWindow)
	messages := make([]coze.ChatMessage, 0, len(window))
	for _, msg := range window {
		messages = append(messages, coze.ChatMessage{
			Role:        msg.Role.Upstream(),
			Content:     msg.Content,
			ContentType: "text",
		})
	}

	// Awaiting：流式读取上游回复
	reply := s.streamReply(ctx, session, messages, emit, turnID)

	if strings.TrimSpace(reply) == "" {
		reply = emptyReplyPlaceholder
		emit(reply)
	}

	// Committing：提交 AI 回复并落表
	session.Append(model.Message{
		Role:      model.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now(),
	})
	replyRes := s.store.Append(context.Background(), session.UserName, model.RoleAssistant, reply)
	studentRes := <-studentCh

	log.Printf("[INFO] turn %s committed (user=%s, reply=%s)", turnID, name, util.TruncateString(reply, 30))
	return &TurnResult{
		Reply:            reply,
		StudentPersisted: studentRes.Persisted,
		ReplyPersisted:   replyRes.Persisted,
	}, nil
}

// streamReply 发起上游请求并解码流式回复
// 返回累积的回复全文；连接失败时返回一段合成的错误文本
func (s *ChatService) streamReply(ctx context.Context, session *chat.Session, messages []coze.ChatMessage, emit func(string), turnID string) string {
	userID := util.UpstreamUserID(session.UserName)

	stream, err := s.ai.StreamChat(ctx, userID, session.ConversationID(), messages)
	if err != nil {
		// 连接失败以一条合成回复结束本轮，会话下一轮仍然可用
		log.Printf("[WARN] turn %s upstream failed (user=%s): %v", turnID, session.UserName, err)
		errText := "💥 出错: " + err.Error()
		emit(errText)
		return errText
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		text, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if text != "" {
			builder.WriteString(text)
			emit(text)
		}
	}

	// 捕获到新的会话令牌时记下来，下一轮请求带上以延续上游记忆
	if id := stream.ConversationID(); id != "" {
		session.SetConversationID(id)
		if s.cache != nil {
			if err := s.cache.SetConversationID(ctx, chat.NormalizeName(session.UserName), id); err != nil {
				log.Printf("[WARN] cache conversation id failed: %v", err)
			}
		}
	}
	return builder.String()
}

// History 返回学生会话的消息快照
// 参数:
//   - name: 归一化后的学生姓名
//
// 返回:
//   - []model.Message: 消息列表
//   - error: ErrNotLoggedIn
func (s *ChatService) History(name string) ([]model.Message, error) {
	session := s.registry.Get(name)
	if session == nil {
		return nil, ErrNotLoggedIn
	}
	return session.Messages(), nil
}

// OnlineStudents 返回在线学生名单
// 缓存不可用时返回空名单
func (s *ChatService) OnlineStudents(ctx context.Context) []string {
	if s.cache == nil {
		return []string{}
	}
	names, err := s.cache.ListOnlineStudents(ctx)
	if err != nil {
		log.Printf("[WARN] list online students failed: %v", err)
		return []string{}
	}
	return names
}
