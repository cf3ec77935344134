package coze_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk-tutor-server/internal/coze"
)

// collect 读完整个流，返回所有增量文本
func collect(t *testing.T, stream *coze.Stream) []string {
	t.Helper()
	var chunks []string
	for {
		text, err := stream.Recv()
		if err == io.EOF {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, text)
	}
}

func newStream(body string) *coze.Stream {
	return coze.NewStream(io.NopCloser(strings.NewReader(body)))
}

// TestStreamDeltaOnly 只有 delta 帧贡献输出
// completed 帧复述全文，计入输出就会出现重复文本
func TestStreamDeltaOnly(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","content":"Hello"}`,
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","content":" world"}`,
		"event:conversation.message.completed",
		`data:{"role":"assistant","type":"answer","content":"Hello world"}`,
		"data:[DONE]",
	}, "\n")

	chunks := collect(t, newStream(body))
	assert.Equal(t, []string{"Hello", " world"}, chunks)
	assert.Equal(t, "Hello world", strings.Join(chunks, ""))
}

// TestStreamCompletedTypeAnswer completed 帧的 type 也可能是 "answer"
// event 判定必须优先于 type 判定，否则全文会被重复计入
func TestStreamCompletedTypeAnswer(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.completed",
		`data:{"type":"answer","content":"重复的全文"}`,
		"data:[DONE]",
	}, "\n")

	chunks := collect(t, newStream(body))
	assert.Empty(t, chunks)
}

// TestStreamFlattenedFrames 自描述 JSON 形态：帧自带 event 或 type 字段
func TestStreamFlattenedFrames(t *testing.T) {
	body := strings.Join([]string{
		`data:{"event":"conversation.message.delta","content":"你好"}`,
		`data:{"type":"answer","content":"，同学"}`,
		`data:{"event":"conversation.message.completed","content":"你好，同学"}`,
		"data:[DONE]",
	}, "\n")

	chunks := collect(t, newStream(body))
	assert.Equal(t, "你好，同学", strings.Join(chunks, ""))
}

// TestStreamConversationID 从会话创建帧捕获会话令牌
func TestStreamConversationID(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.chat.created",
		`data:{"data":{"conversation_id":"conv_123"}}`,
		"event:conversation.message.delta",
		`data:{"content":"好的"}`,
		"data:[DONE]",
	}, "\n")

	stream := newStream(body)
	chunks := collect(t, stream)
	assert.Equal(t, []string{"好的"}, chunks)
	assert.Equal(t, "conv_123", stream.ConversationID())
}

// TestStreamConversationIDTopLevel 令牌在帧顶层字段时也能捕获
func TestStreamConversationIDTopLevel(t *testing.T) {
	body := strings.Join([]string{
		`data:{"event":"conversation.chat.created","conversation_id":"conv_9"}`,
		"data:[DONE]",
	}, "\n")

	stream := newStream(body)
	collect(t, stream)
	assert.Equal(t, "conv_9", stream.ConversationID())
}

// TestStreamNoConversationID 上游没下发令牌时返回空串
func TestStreamNoConversationID(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.delta",
		`data:{"content":"hi"}`,
		"data:[DONE]",
	}, "\n")

	stream := newStream(body)
	collect(t, stream)
	assert.Equal(t, "", stream.ConversationID())
}

// TestStreamMalformedFrameSkipped 坏帧静默跳过，不中断解码
func TestStreamMalformedFrameSkipped(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.delta",
		`data:{"content":"前"}`,
		"event:conversation.message.delta",
		`data:{not valid json`,
		"event:conversation.message.delta",
		`data:{"content":"后"}`,
		"data:[DONE]",
	}, "\n")

	chunks := collect(t, newStream(body))
	assert.Equal(t, []string{"前", "后"}, chunks)
}

// TestStreamDoneSentinel [DONE] 是结束哨兵，不是内容
func TestStreamDoneSentinel(t *testing.T) {
	body := strings.Join([]string{
		"data:[DONE]",
		"event:conversation.message.delta",
		`data:{"content":"不应该出现"}`,
	}, "\n")

	stream := newStream(body)
	chunks := collect(t, stream)
	assert.Empty(t, chunks)

	// 流结束后继续 Recv 一律返回 EOF
	_, err := stream.Recv()
	assert.Equal(t, io.EOF, err)
}

// errReader 输出部分数据后返回读错误，模拟连接中断
type errReader struct {
	data *strings.Reader
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.data.Len() > 0 {
		return r.data.Read(p)
	}
	return 0, r.err
}

func (r *errReader) Close() error { return nil }

// TestStreamConnectionError 连接级失败产出一段合成错误文本，然后终止
func TestStreamConnectionError(t *testing.T) {
	partial := "event:conversation.message.delta\n" +
		`data:{"content":"开头"}` + "\n"
	stream := coze.NewStream(&errReader{
		data: strings.NewReader(partial),
		err:  errors.New("connection reset"),
	})

	text, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "开头", text)

	text, err = stream.Recv()
	require.NoError(t, err)
	assert.Contains(t, text, "connection reset")

	// 合成错误文本只产出一次
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

// TestStreamEmpty 空流直接结束
func TestStreamEmpty(t *testing.T) {
	stream := newStream("")
	_, err := stream.Recv()
	assert.Equal(t, io.EOF, err)
}
