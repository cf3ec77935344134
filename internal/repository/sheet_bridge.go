// Package repository 提供转录表的数据访问层
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SheetBridge 表格网关后端的转录表实现
// 通过一个简单的 HTTP 网关（如 Apps Script Web App）读写在线表格
// GET  返回 {"values": [[...], ...]}（含表头行）
// POST 请求体 {"values": [...]}，在表末尾追加一行
type SheetBridge struct {
	endpoint string
	client   *http.Client
}

// NewSheetBridge 创建 SheetBridge 实例
// 参数:
//   - endpoint: 网关地址
//   - timeout: 单次请求超时时间
func NewSheetBridge(endpoint string, timeout time.Duration) *SheetBridge {
	return &SheetBridge{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// appendRequest 追加请求体
type appendRequest struct {
	Values []string `json:"values"`
}

// valuesResponse 全量读取响应体
type valuesResponse struct {
	Values [][]string `json:"values"`
}

// AppendRow 通过网关追加一行
func (b *SheetBridge) AppendRow(ctx context.Context, values []string) error {
	body, err := json.Marshal(appendRequest{Values: values})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheet bridge returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// AllValues 通过网关全量读取表格
// 返回内容包含表头行，顺序由表格本身保证
func (b *SheetBridge) AllValues(ctx context.Context) ([][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet bridge returned status %d", resp.StatusCode)
	}

	var result valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse sheet response: %w", err)
	}
	return result.Values, nil
}
