package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// SessionManager 管理所有会话，空闲超时的会话会被回收
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	previews *PreviewRegistry
	cfg      config.SessionConfig
	now      func() time.Time
}

func NewSessionManager(cfg *config.SessionConfig, previews *PreviewRegistry) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		previews: previews,
		cfg:      *cfg,
		now:      time.Now,
	}
}

// Create 新建会话，背景为默认配置
func (m *SessionManager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	s := NewSession(utils.NewID(), m.previews, m.cfg.RenderTimeout)
	s.touch(m.now())
	m.sessions[s.ID] = s

	utils.Logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.Int("active", len(m.sessions)))
	return s, nil
}

// Get 获取会话并刷新活跃时间
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 关闭空闲超过 IdleTTL 的会话，返回关闭数量
func (m *SessionManager) Sweep() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	deadline := m.now().Add(-m.cfg.IdleTTL)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(deadline) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		utils.Logger.Info("idle sessions expired", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run 周期性回收空闲会话，直到 ctx 结束
func (m *SessionManager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close 关闭所有会话
func (m *SessionManager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
