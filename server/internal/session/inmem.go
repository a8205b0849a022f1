package session

import (
	"context"
	"sync"
	"time"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/model"
)

// InMemoryStore 基于内存的会话存储：map 加按键互斥锁，
// 附带一个按空闲时长清理的 janitor。
// 注意：重启即丢数据；多实例部署换 RedisStore。
type InMemoryStore struct {
	mu      sync.RWMutex
	data    map[string]*entry
	locks   sync.Map // session id -> *sync.Mutex
	maxIdle time.Duration
}

type entry struct {
	state    *model.SessionState
	lastSeen time.Time
}

// NewInMemoryStore 创建内存存储。maxIdle<=0 时关闭过期清理。
func NewInMemoryStore(maxIdle time.Duration) *InMemoryStore {
	return &InMemoryStore{
		data:    make(map[string]*entry),
		maxIdle: maxIdle,
	}
}

// Get 根据 SessionID 获取 SessionState。读也刷新 lastSeen，
// 刷新是写操作，必须拿写锁（流订阅会在会话锁外并发调 Get）。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = time.Now()
	return e.state, nil
}

// Save 保存或更新 SessionState。
func (s *InMemoryStore) Save(_ context.Context, state *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.SessionID] = &entry{state: state, lastSeen: time.Now()}
	return nil
}

// Delete 删除会话，幂等。
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Count 当前存活会话数。
func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

// WithLock 串行化同一会话的处理。锁按会话懒建，永不回收——
// 锁本身极小，存活会话数有 janitor 兜底。
func (s *InMemoryStore) WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

// Sweep 清掉空闲超过 maxIdle 的会话，返回清理数量。
func (s *InMemoryStore) Sweep() int {
	if s.maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.data {
		if e.lastSeen.Before(cutoff) {
			delete(s.data, id)
			s.locks.Delete(id)
			n++
		}
	}
	return n
}

// StartJanitor 启动后台清理循环，ctx 取消时退出。
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.maxIdle <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					logx.Info().Int("evicted", n).Msg("session janitor evicted idle sessions")
				}
			}
		}
	}()
}
