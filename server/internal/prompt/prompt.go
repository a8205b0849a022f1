package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Role 提示词模板的角色名，对应 prompts 目录下的 <role>.md。
type Role string

const (
	RoleFlowClassifier  Role = "flow-classifier"
	RoleUnderstanding   Role = "understanding-agent"
	RoleValidationHints Role = "validation-hints"
	RoleRecommendation  Role = "recommendation-agent"
	RoleConversation    Role = "conversation-manager"
)

// Manager 负责加载与渲染提示词模板。目录里没有的角色退回内置模板，
// 零配置也能跑完整流程。
type Manager struct {
	promptsDir string
	templates  map[Role]string
}

// NewManager 创建提示词管理器并加载目录下的 *.md 模板。
// 目录不存在不算错误，全部使用内置模板。
func NewManager(promptsDir string) (*Manager, error) {
	m := &Manager{
		promptsDir: promptsDir,
		templates:  make(map[Role]string),
	}
	if promptsDir == "" {
		return m, nil
	}
	files, err := os.ReadDir(promptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read prompts dir: %w", err)
	}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(file.Name(), ".md")
		content, err := os.ReadFile(filepath.Join(promptsDir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		m.templates[Role(name)] = string(content)
	}
	return m, nil
}

// For 渲染某个角色的提示词，{placeholder} 按 vars 替换。
// 模板里出现但 vars 没给的占位符原样保留，方便排查。
func (m *Manager) For(role Role, vars map[string]string) (string, error) {
	tpl, ok := m.templates[role]
	if !ok {
		tpl, ok = builtins[role]
		if !ok {
			return "", fmt.Errorf("unknown prompt role %q", role)
		}
	}
	out := tpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out, nil
}
