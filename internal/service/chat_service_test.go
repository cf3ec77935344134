package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk-tutor-server/internal/chat"
	"talk-tutor-server/internal/config"
	"talk-tutor-server/internal/coze"
	"talk-tutor-server/internal/model"
	"talk-tutor-server/internal/service"
	"talk-tutor-server/internal/transcript"
	"talk-tutor-server/pkg/jwt"
)

const (
	testPassword = "888"
	testWelcome  = "你好！我们开始今天的练习吧。"
)

// memoryRows 内存版转录表后端
// 学生消息是异步落表的，所以这里要自己加锁
type memoryRows struct {
	mu   sync.Mutex
	rows [][]string
}

func newMemoryRows() *memoryRows {
	return &memoryRows{rows: [][]string{model.TranscriptColumns}}
}

func (m *memoryRows) AppendRow(ctx context.Context, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := make([]string, len(values))
	copy(row, values)
	m.rows = append(m.rows, row)
	return nil
}

func (m *memoryRows) AllValues(ctx context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

// count 表头之外的数据行数
func (m *memoryRows) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows) - 1
}

func (m *memoryRows) seed(userName, roleLabel, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Format("2006-01-02 15:04:05")
	m.rows = append(m.rows, []string{now, userName, roleLabel, content})
}

// fakeStreamer 返回预置事件流的上游客户端
type fakeStreamer struct {
	payloads []string // 每次调用消费一段，耗尽后复用最后一段
	failNext error    // 下一次调用直接失败（消费后清除）

	calls        int
	lastUserID   string
	lastConvID   string
	lastMessages []coze.ChatMessage
}

func (f *fakeStreamer) StreamChat(ctx context.Context, userID, conversationID string, messages []coze.ChatMessage) (*coze.Stream, error) {
	f.calls++
	f.lastUserID = userID
	f.lastConvID = conversationID
	f.lastMessages = messages

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}

	payload := "data:[DONE]\n"
	if len(f.payloads) > 0 {
		payload = f.payloads[0]
		if len(f.payloads) > 1 {
			f.payloads = f.payloads[1:]
		}
	}
	return coze.NewStream(io.NopCloser(strings.NewReader(payload))), nil
}

// deltaPayload 把若干段增量文本拼成一段上游事件流
func deltaPayload(chunks ...string) string {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString("event:conversation.message.delta\n")
		fmt.Fprintf(&b, "data:{\"content\":%q}\n", chunk)
	}
	b.WriteString("data:[DONE]\n")
	return b.String()
}

func newTestService(rows *memoryRows, ai service.ChatStreamer) (*service.ChatService, *chat.Registry) {
	cfg := &config.Config{
		Class: config.ClassConfig{
			Password:      testPassword,
			Welcome:       testWelcome,
			ContextWindow: 14,
		},
	}
	registry := chat.NewRegistry()
	var store *transcript.Store
	if rows != nil {
		store = transcript.New(rows)
	} else {
		store = transcript.New(nil)
	}
	jwtService := jwt.NewJWTService("test-secret-key-0123456789abcdef", time.Hour)
	svc := service.NewChatService(cfg, registry, store, ai, nil, jwtService)
	return svc, registry
}

// TestLoginValidation 姓名非空、暗号精确匹配
func TestLoginValidation(t *testing.T) {
	svc, _ := newTestService(newMemoryRows(), &fakeStreamer{})
	ctx := context.Background()

	_, err := svc.Login(ctx, "", testPassword)
	assert.ErrorIs(t, err, service.ErrEmptyName)

	_, err = svc.Login(ctx, "   ", testPassword)
	assert.ErrorIs(t, err, service.ErrEmptyName)

	_, err = svc.Login(ctx, "ZhangSan", "999")
	assert.ErrorIs(t, err, service.ErrPasswordWrong)

	// 暗号不做任何归一化，大小写和空白都必须严格一致
	_, err = svc.Login(ctx, "ZhangSan", " 888")
	assert.ErrorIs(t, err, service.ErrPasswordWrong)
}

// TestLoginSeedsWelcome 空历史播种欢迎语
func TestLoginSeedsWelcome(t *testing.T) {
	svc, _ := newTestService(newMemoryRows(), &fakeStreamer{})

	result, err := svc.Login(context.Background(), " ZhangSan ", testPassword)
	require.NoError(t, err)

	assert.Equal(t, "zhangsan", result.Name)
	assert.Equal(t, "ZhangSan", result.DisplayName)
	assert.NotEmpty(t, result.Token)
	assert.True(t, result.StoreReady)

	require.Len(t, result.Messages, 1)
	assert.Equal(t, model.RoleAssistant, result.Messages[0].Role)
	assert.Equal(t, testWelcome, result.Messages[0].Content)
}

// TestLoginRestoresHistory 登录时按姓名（不区分大小写）重建历史
func TestLoginRestoresHistory(t *testing.T) {
	rows := newMemoryRows()
	rows.seed("ZhangSan", "学生", "上次的问题")
	rows.seed("ZhangSan", "AI导师", "上次的回答")
	rows.seed("LiSi", "学生", "别人的问题")
	svc, _ := newTestService(rows, &fakeStreamer{})

	result, err := svc.Login(context.Background(), "zhangsan", testPassword)
	require.NoError(t, err)

	require.Len(t, result.Messages, 2)
	assert.Equal(t, model.RoleStudent, result.Messages[0].Role)
	assert.Equal(t, "上次的问题", result.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, result.Messages[1].Role)
	assert.Equal(t, "上次的回答", result.Messages[1].Content)
}

// TestSubmitTurn 一轮完整对话：增量渲染、提交、两条消息落表
func TestSubmitTurn(t *testing.T) {
	rows := newMemoryRows()
	ai := &fakeStreamer{payloads: []string{deltaPayload("追问是", "一种谈话策略。")}}
	svc, _ := newTestService(rows, ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	var chunks []string
	result, err := svc.SubmitTurn(ctx, login.Name, "什么是追问？", func(delta string) {
		chunks = append(chunks, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, "追问是一种谈话策略。", result.Reply)
	assert.Equal(t, []string{"追问是", "一种谈话策略。"}, chunks)
	assert.False(t, result.Suppressed)
	assert.True(t, result.Persisted())

	// 上游请求携带学生标识和正确的消息角色
	assert.Equal(t, "stu_ZhangSan", ai.lastUserID)
	require.NotEmpty(t, ai.lastMessages)
	last := ai.lastMessages[len(ai.lastMessages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "什么是追问？", last.Content)

	// 学生消息和 AI 回复各落一行
	assert.Equal(t, 2, rows.count())

	// 本地会话：欢迎语 + 学生消息 + AI 回复
	history, err := svc.History(login.Name)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

// TestSubmitTurnValidation 未登录和空输入
func TestSubmitTurnValidation(t *testing.T) {
	svc, _ := newTestService(newMemoryRows(), &fakeStreamer{})
	ctx := context.Background()

	_, err := svc.SubmitTurn(ctx, "nobody", "hi", nil)
	assert.ErrorIs(t, err, service.ErrNotLoggedIn)

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	_, err = svc.SubmitTurn(ctx, login.Name, "   ", nil)
	assert.ErrorIs(t, err, service.ErrEmptyInput)
}

// TestDuplicateTurnSuppressed 与上一条学生消息相同的提交整轮跳过
// 中间隔着 AI 回复也算重复（比较对象是最近一条学生消息）
func TestDuplicateTurnSuppressed(t *testing.T) {
	rows := newMemoryRows()
	ai := &fakeStreamer{payloads: []string{deltaPayload("回答")}}
	svc, _ := newTestService(rows, ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	first, err := svc.SubmitTurn(ctx, login.Name, "同一个问题", nil)
	require.NoError(t, err)
	require.False(t, first.Suppressed)

	second, err := svc.SubmitTurn(ctx, login.Name, "同一个问题", nil)
	require.NoError(t, err)
	assert.True(t, second.Suppressed)
	assert.Empty(t, second.Reply)

	// 被抑制的一轮：不调上游、不写新行、会话消息数不变
	assert.Equal(t, 1, ai.calls)
	assert.Equal(t, 2, rows.count())
	history, _ := svc.History(login.Name)
	assert.Len(t, history, 3)

	// 内容不同就不算重复
	third, err := svc.SubmitTurn(ctx, login.Name, "换一个问题", nil)
	require.NoError(t, err)
	assert.False(t, third.Suppressed)
}

// TestContextWindow 上游请求只带最近的若干条消息
func TestContextWindow(t *testing.T) {
	ai := &fakeStreamer{payloads: []string{deltaPayload("好的")}}
	svc, registry := newTestService(newMemoryRows(), ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	// 填入远超窗口的历史
	session := registry.Get(login.Name)
	require.NotNil(t, session)
	for i := 0; i < 20; i++ {
		session.Append(model.Message{Role: model.RoleStudent, Content: fmt.Sprintf("问题 %d", i)})
		session.Append(model.Message{Role: model.RoleAssistant, Content: fmt.Sprintf("回答 %d", i)})
	}

	_, err = svc.SubmitTurn(ctx, login.Name, "最新的问题", nil)
	require.NoError(t, err)

	require.Len(t, ai.lastMessages, 14)
	// 窗口尾部必须是本轮刚提交的学生消息
	assert.Equal(t, "最新的问题", ai.lastMessages[len(ai.lastMessages)-1].Content)
}

// TestTurnInFlight 上一轮没结束时拒绝新提交
func TestTurnInFlight(t *testing.T) {
	svc, registry := newTestService(newMemoryRows(), &fakeStreamer{})
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	session := registry.Get(login.Name)
	require.True(t, session.BeginTurn())
	defer session.EndTurn()

	_, err = svc.SubmitTurn(ctx, login.Name, "插队的提交", nil)
	assert.ErrorIs(t, err, service.ErrTurnInFlight)
}

// TestEmptyReplyPlaceholder 上游没吐出任何文本时提交占位回复
func TestEmptyReplyPlaceholder(t *testing.T) {
	ai := &fakeStreamer{payloads: []string{"data:[DONE]\n"}}
	svc, _ := newTestService(newMemoryRows(), ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	var chunks []string
	result, err := svc.SubmitTurn(ctx, login.Name, "一个问题", func(delta string) {
		chunks = append(chunks, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, "🤔 AI 思考中...", result.Reply)
	assert.Equal(t, []string{"🤔 AI 思考中..."}, chunks)
}

// TestUpstreamFailureDegrades 连接失败以合成回复结束本轮，会话继续可用
func TestUpstreamFailureDegrades(t *testing.T) {
	ai := &fakeStreamer{
		failNext: errors.New("dial tcp: connection refused"),
		payloads: []string{deltaPayload("恢复后的回答")},
	}
	svc, _ := newTestService(newMemoryRows(), ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	result, err := svc.SubmitTurn(ctx, login.Name, "第一个问题", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "💥 出错: ")
	assert.Contains(t, result.Reply, "connection refused")

	// 下一轮正常进行
	next, err := svc.SubmitTurn(ctx, login.Name, "第二个问题", nil)
	require.NoError(t, err)
	assert.Equal(t, "恢复后的回答", next.Reply)
}

// TestConversationTokenLifecycle 会话令牌：捕获后下一轮带上，重新登录后清零
func TestConversationTokenLifecycle(t *testing.T) {
	created := "event:conversation.chat.created\n" +
		`data:{"data":{"conversation_id":"conv_abc"}}` + "\n" +
		deltaPayload("第一轮回答")
	ai := &fakeStreamer{payloads: []string{created, deltaPayload("后续回答")}}
	svc, _ := newTestService(newMemoryRows(), ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	// 第一轮：还没有令牌
	_, err = svc.SubmitTurn(ctx, login.Name, "第一轮", nil)
	require.NoError(t, err)
	assert.Equal(t, "", ai.lastConvID)

	// 第二轮：带上第一轮捕获的令牌
	_, err = svc.SubmitTurn(ctx, login.Name, "第二轮", nil)
	require.NoError(t, err)
	assert.Equal(t, "conv_abc", ai.lastConvID)

	// 重新登录后令牌清零，跨登录不保留上游记忆
	relogin, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)
	_, err = svc.SubmitTurn(ctx, relogin.Name, "新登录后的一轮", nil)
	require.NoError(t, err)
	assert.Equal(t, "", ai.lastConvID)
}

// TestLogoutRemovesSession 登出后会话不可再用
func TestLogoutRemovesSession(t *testing.T) {
	svc, _ := newTestService(newMemoryRows(), &fakeStreamer{})
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)

	svc.Logout(ctx, login.Name, "", time.Time{})

	_, err = svc.History(login.Name)
	assert.ErrorIs(t, err, service.ErrNotLoggedIn)
	_, err = svc.SubmitTurn(ctx, login.Name, "hi", nil)
	assert.ErrorIs(t, err, service.ErrNotLoggedIn)
}

// TestStoreUnavailable 转录表未配置时登录和对话照常，只是不落表
func TestStoreUnavailable(t *testing.T) {
	ai := &fakeStreamer{payloads: []string{deltaPayload("回答")}}
	svc, _ := newTestService(nil, ai)
	ctx := context.Background()

	login, err := svc.Login(ctx, "ZhangSan", testPassword)
	require.NoError(t, err)
	assert.False(t, login.StoreReady)

	result, err := svc.SubmitTurn(ctx, login.Name, "一个问题", nil)
	require.NoError(t, err)
	assert.Equal(t, "回答", result.Reply)
	assert.False(t, result.Persisted())
}
