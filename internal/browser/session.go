package browser

import (
	"context"
	"encoding/json"
	"sync"

	"hncrawler/internal/cdp"
	"hncrawler/pkg/model"
)

// transport 单个页面目标上的协议原语，由 cdp.Manager 实现
type transport interface {
	Navigate(ctx context.Context, rawURL string) (string, error)
	NavigateHistory(ctx context.Context, delta int) (string, error)
	Evaluate(ctx context.Context, expr string) ([]byte, error)
	DocumentHTML(ctx context.Context) (string, error)
	MainFrame() model.FrameID
	// ConsumeLifecycle 消费连接建立时就已订阅的事件流，Open 返回前到达的事件不会丢失
	ConsumeLifecycle(deliver func(model.LifecycleEvent)) error
	Done() <-chan struct{}
	Close() error
}

var _ transport = (*cdp.Manager)(nil)

// Session 一条存活的调试连接，只由 Driver 修改
type Session struct {
	ID model.SessionID

	mu     sync.Mutex // 串行化动作
	tr     transport
	events *eventTable
	seq    uint64

	stateMu sync.RWMutex
	url     string
	lost    error
	closed  bool

	stop      func()
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newSession(id model.SessionID, tr transport) *Session {
	return &Session{ID: id, tr: tr, events: newEventTable(), pumpDone: make(chan struct{})}
}

// URL 返回最近一次已知的页面地址
func (s *Session) URL() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.url
}

// Alive 会话未关闭且连接未断开
func (s *Session) Alive() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return !s.closed && s.lost == nil
}

func (s *Session) setURL(u string) {
	if u == "" {
		return
	}
	s.stateMu.Lock()
	s.url = u
	s.stateMu.Unlock()
}

func (s *Session) markLost(err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.lost == nil && !s.closed {
		s.lost = err
	}
}

// unusable 返回会话不可用的原因
func (s *Session) unusable() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		return errSessionClosed
	}
	return s.lost
}

// pump 把生命周期事件送入关联表，连接断开后让所有等待者失败
func (s *Session) pump() {
	defer close(s.pumpDone)
	err := s.tr.ConsumeLifecycle(func(ev model.LifecycleEvent) {
		s.events.deliver(ev)
	})
	if err == nil {
		err = errSessionClosed
	}
	s.markLost(err)
	s.events.fail(&SessionLostError{SessionID: string(s.ID), Err: err})
}

// disconnected 判断底层连接是否已断开
func (s *Session) disconnected() bool {
	select {
	case <-s.tr.Done():
		return true
	default:
		return s.unusable() != nil
	}
}

func encode(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
