package session

import (
	"context"
	"errors"

	"charge-wizard/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store 会话存储。WithLock 把同一会话的读-改-写串行化，
// 编排器的整条流水线都在锁内跑，同一会话的并发请求排队。
type Store interface {
	Get(ctx context.Context, id string) (*model.SessionState, error)
	Save(ctx context.Context, s *model.SessionState) error
	Delete(ctx context.Context, id string) error
	WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error
	Count(ctx context.Context) (int, error)
}
