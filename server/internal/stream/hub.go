package stream

import (
	"sync"
	"time"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/model"
)

// TurnEvent 一轮编排结束后推给订阅者的事件。
type TurnEvent struct {
	SessionID string            `json:"sessionId"`
	TS        time.Time         `json:"ts"`
	Result    *model.ChatResult `json:"result"`
}

// 每个订阅者的缓冲。写满直接丢，慢消费者不能拖住编排流水线。
const subscriberBuffer = 16

// Hub 按会话扇出轮次事件。订阅者是一次性 channel，
// 断开时必须 Unsubscribe，否则句柄泄漏。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// Subscriber 单个订阅句柄。
type Subscriber struct {
	sessionID string
	ch        chan TurnEvent
}

// Events 事件只读通道。
func (s *Subscriber) Events() <-chan TurnEvent {
	return s.ch
}

// NewHub 创建扇出中心。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe 订阅某个会话的轮次事件。
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{sessionID: sessionID, ch: make(chan TurnEvent, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

// Unsubscribe 退订并关闭通道。
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.sessionID]
	if set == nil {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.sessionID)
	}
	close(sub.ch)
}

// Publish 把一轮结果推给该会话的所有订阅者，非阻塞。
func (h *Hub) Publish(sessionID string, result *model.ChatResult) {
	ev := TurnEvent{SessionID: sessionID, TS: time.Now(), Result: result}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- ev:
		default:
			logx.Warn().Str("session_id", sessionID).Msg("stream subscriber buffer full, dropping turn event")
		}
	}
}
