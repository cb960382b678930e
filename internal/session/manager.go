package session

import (
	"fmt"
	"sync"

	"hncrawler/internal/logger"
	"hncrawler/pkg/model"
)

// State 编排器生命周期状态
type State string

const (
	Idle            State = "idle"
	SessionOpen     State = "session_open"
	Crawling        State = "crawling"
	AwaitingCommand State = "awaiting_command"
	Closed          State = "closed"
)

// transitions 合法的状态迁移
var transitions = map[State][]State{
	Idle:            {SessionOpen, Closed},
	SessionOpen:     {Crawling, AwaitingCommand, Closed},
	Crawling:        {SessionOpen, Closed},
	AwaitingCommand: {SessionOpen, Closed},
}

// TransitionError 非法的状态迁移
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("非法状态迁移: %s -> %s", e.From, e.To)
}

// Manager 跟踪编排器状态和当前绑定的浏览器会话
type Manager struct {
	mu      sync.RWMutex
	state   State
	current model.SessionID
	opened  int
	log     logger.Logger
}

// NewManager 创建状态管理器，初始为 Idle
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{state: Idle, log: l}
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current 当前绑定的会话
func (m *Manager) Current() model.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Opened 累计打开过的会话数（含重连）
func (m *Manager) Opened() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opened
}

// Transition 迁移到目标状态
func (m *Manager) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Bind 会话打开后登记并进入 SessionOpen
func (m *Manager) Bind(id model.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(SessionOpen); err != nil {
		return err
	}
	m.current = id
	m.opened++
	m.log.Info("绑定浏览器会话", "sessionID", string(id), "opened", m.opened)
	return nil
}

// Close 进入终止状态，可重复调用
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return
	}
	_ = m.transitionLocked(Closed)
	m.current = ""
}

func (m *Manager) transitionLocked(to State) error {
	for _, s := range transitions[m.state] {
		if s == to {
			m.log.Debug("状态迁移", "from", string(m.state), "to", string(to))
			m.state = to
			return nil
		}
	}
	return &TransitionError{From: m.state, To: to}
}
