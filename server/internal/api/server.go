package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	logx "charge-wizard/pkg/logger"
	"charge-wizard/server/internal/config"
	"charge-wizard/server/internal/model"
	"charge-wizard/server/internal/orchestrator"
	"charge-wizard/server/internal/session"
	"charge-wizard/server/internal/stream"
)

// 单条消息的长度上限，防止把整个 CSV 粘进聊天框。
const maxMessageLen = 8000

type Server struct {
	config       *config.Config
	store        session.Store
	orchestrator *orchestrator.Orchestrator
	hub          *stream.Hub
	upgrader     websocket.Upgrader
}

// NewServer 创建 HTTP 服务。
func NewServer(cfg *config.Config, store session.Store, orch *orchestrator.Orchestrator, hub *stream.Hub) *Server {
	return &Server{
		config:       cfg,
		store:        store,
		orchestrator: orch,
		hub:          hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 开发期允许本地前端跨域，生产环境应改为白名单
				origin := r.Header.Get("Origin")
				return origin == "" || strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
			},
		},
	}
}

// Routes 组装路由。Gin 统一承载中间件，便于扩展鉴权/限流。
func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.corsMiddleware())
	engine.GET("/api/health", s.handleHealth)
	engine.POST("/api/chat", s.handleChat)
	engine.DELETE("/api/chat/:sessionId", s.handleDeleteSession)
	engine.GET("/api/chat/:sessionId/stream", s.handleChatStream)
	return engine
}

// handleHealth 返回服务健康状态与存活会话数。
func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.store.Count(c.Request.Context())
	if err != nil {
		logx.Error().Err(err).Msg("count sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded", "error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"activeSessions": count,
		"llmProvider":    s.config.LLM.Provider,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Context   *struct {
		CurrentStep *int            `json:"currentStep"`
		FormData    *model.FormData `json:"formData"`
	} `json:"context"`
}

// handleChat 一轮对话。校验失败 400，存储故障 500，其余都在
// 编排器里降级成 200 响应。
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json body"})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "message is required"})
		return
	}
	if len(msg) > maxMessageLen {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "message too long"})
		return
	}

	oreq := orchestrator.Request{Message: msg, SessionID: req.SessionID}
	if req.Context != nil {
		oreq.CurrentStep = req.Context.CurrentStep
		oreq.Form = req.Context.FormData
	}

	started := time.Now()
	result, err := s.orchestrator.ProcessMessage(c.Request.Context(), oreq)
	if err != nil {
		logx.Error().Err(err).Str("session_id", req.SessionID).Msg("process message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}

	logx.Info().
		Str("session_id", result.SessionID).
		Str("flow", result.Flow).
		Dur("took", time.Since(started)).
		Bool("degraded", result.Degraded).
		Msg("chat turn handled")
	c.JSON(http.StatusOK, result)
}

// handleDeleteSession 显式结束会话，幂等。
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("sessionId")
	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("delete session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "delete session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": id})
}

// handleChatStream WebSocket 推送该会话的轮次事件，
// 前端用它实时渲染表单更新与编排链。
func (s *Server) handleChatStream(c *gin.Context) {
	id := c.Param("sessionId")
	if _, err := s.store.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "load session failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logx.Warn().Err(err).Str("session_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(sub)
	logx.Info().Str("session_id", id).Msg("stream subscriber connected")

	// 读循环只为感知断开；客户端不需要上行数据
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logx.Warn().Err(err).Str("session_id", id).Msg("stream write failed")
				return
			}
		}
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地前端；线上应改为白名单或同源。
		if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
