package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient 用于测试的 Mock LLM 客户端。按 schema 名（无 schema 时
// 按 "text"）返回脚本化响应，支持按序出队。
type MockClient struct {
	mu        sync.Mutex
	responses map[string][]string
	Err       error
	CallCount int
	// LastMessages 记录最近一次请求，便于测试断言提示词内容。
	LastMessages []Message
}

// NewMockClient 创建 Mock LLM 客户端
func NewMockClient() *MockClient {
	return &MockClient{responses: make(map[string][]string)}
}

// Script 为某个 schema 名（或 "text"）追加一条脚本响应。
func (m *MockClient) Script(name, response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[name] = append(m.responses[name], response)
	return m
}

// Complete 模拟 LLM Complete 方法
func (m *MockClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastMessages = append([]Message(nil), messages...)

	if m.Err != nil {
		return "", m.Err
	}

	name := "text"
	if schema != nil {
		name = schema.Name
	}
	queue := m.responses[name]
	if len(queue) == 0 {
		return "", fmt.Errorf("mock llm: no scripted response for %q", name)
	}
	resp := queue[0]
	m.responses[name] = queue[1:]
	return resp, nil
}
