package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/intake"
	"github.com/TIANLI0/ClearBG/state"
	"github.com/TIANLI0/ClearBG/utils"
)

var ErrNotFound = errors.New("session not found")

// Publisher 把会话的 View 推送给订阅者（SSE）
type Publisher interface {
	PublishTopic(topic string, msg []byte)
}

// Manager 内存中的会话表，定时清理空闲会话
type Manager struct {
	intake    *intake.Intake
	remover   state.Remover
	opts      Options
	idleTTL   time.Duration
	publisher Publisher
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Workspace

	cron *cron.Cron
}

func NewManager(in *intake.Intake, remover state.Remover, opts Options, idleTTL time.Duration, publisher Publisher) *Manager {
	return &Manager{
		intake:    in,
		remover:   remover,
		opts:      opts,
		idleTTL:   idleTTL,
		publisher: publisher,
		logger:    utils.Component("session-manager"),
		sessions:  make(map[string]*Workspace),
	}
}

// Create 新建会话
func (m *Manager) Create() *Workspace {
	id := utils.GenerateID()
	ws := NewWorkspace(id, m.intake, m.remover, m.opts)

	m.mu.Lock()
	m.sessions[id] = ws
	m.mu.Unlock()

	if m.publisher != nil {
		go m.forward(ws)
	}

	m.logger.Info("session created", zap.String("session", id))
	return ws
}

func (m *Manager) Get(id string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ws, nil
}

// Close 关闭并移除会话
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	ws, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	ws.Close()
	m.logger.Info("session closed", zap.String("session", id))
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 关闭空闲超过 idleTTL 的会话，返回关闭数量
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}

	var idle []*Workspace
	m.mu.Lock()
	for id, ws := range m.sessions {
		if now.Sub(ws.LastActive()) > m.idleTTL {
			idle = append(idle, ws)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ws := range idle {
		ws.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("idle sessions swept", zap.Int("count", len(idle)), zap.Int("remaining", m.Len()))
	}
	return len(idle)
}

// StartSweeper 按 cron 表达式定时清理
func (m *Manager) StartSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.Sweep(time.Now()) }); err != nil {
		return err
	}
	c.Start()
	m.cron = c

	m.logger.Info("session sweeper started", zap.String("spec", spec), zap.Duration("idle_ttl", m.idleTTL))
	return nil
}

// Shutdown 停止清理任务并关闭所有会话
func (m *Manager) Shutdown() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}

	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.sessions))
	for id, ws := range m.sessions {
		all = append(all, ws)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, ws := range all {
		ws.Close()
	}
}

// forward 把会话的每个新 View 推给 publisher，直到会话关闭
func (m *Manager) forward(ws *Workspace) {
	views, cancel := ws.Subscribe()
	defer cancel()

	for v := range views {
		msg, err := json.Marshal(v)
		if err != nil {
			m.logger.Error("failed to marshal view", zap.String("session", ws.ID()), zap.Error(err))
			continue
		}
		m.publisher.PublishTopic(ws.ID(), msg)
	}
}
