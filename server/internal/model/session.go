package model

import "time"

// 会话聚合：历史、累计表单与当前步。存储层整体序列化为 JSON。

const historyCap = 20

// ChatTurn 历史里的一条消息。
type ChatTurn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// SessionState 一个会话的全部可持久状态。
type SessionState struct {
	SessionID       string     `json:"sessionId"`
	History         []ChatTurn `json:"history,omitempty"`
	Form            FormData   `json:"formData"`
	CurrentStep     int        `json:"currentStep"`
	PreviousActions []string   `json:"previousActions,omitempty"`
	LastFlowType    string     `json:"lastFlowType,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewSession 新会话从第 1 步开始。
func NewSession(id string) *SessionState {
	now := time.Now()
	return &SessionState{
		SessionID:   id,
		CurrentStep: StepScenario,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendTurn 追加一条消息并按上限裁剪最旧的。
func (s *SessionState) AppendTurn(role, content string) {
	s.History = append(s.History, ChatTurn{Role: role, Content: content, TS: time.Now()})
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
}

// RecentHistory 返回最近 n 条消息（用于提示词上下文）。
func (s *SessionState) RecentHistory(n int) []ChatTurn {
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// RecordAction 记录一次编排产生的动作类型，同样有界。
func (s *SessionState) RecordAction(kind string) {
	s.PreviousActions = append(s.PreviousActions, kind)
	if len(s.PreviousActions) > historyCap {
		s.PreviousActions = s.PreviousActions[len(s.PreviousActions)-historyCap:]
	}
}
