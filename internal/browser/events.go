package browser

import (
	"context"
	"sync"

	"hncrawler/pkg/model"
)

const maxCandidates = 32

// expectation 一条等待中的事件签名。loaderID 在命令回复后绑定，
// 绑定前到达的同名事件先暂存为候选，绑定时再比对。
type expectation struct {
	seq        uint64
	name       string
	frameID    model.FrameID
	loaderID   string
	bound      bool
	candidates []model.LifecycleEvent
	done       chan result
}

type result struct {
	ev  model.LifecycleEvent
	err error
}

// eventTable 事件关联表：把异步事件流匹配回发出请求的动作
type eventTable struct {
	mu      sync.Mutex
	pending []*expectation
	err     error
}

func newEventTable() *eventTable { return &eventTable{} }

// expect 在发送命令之前登记期望的事件
func (t *eventTable) expect(seq uint64, name string) (*expectation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	e := &expectation{seq: seq, name: name, done: make(chan result, 1)}
	t.pending = append(t.pending, e)
	return e, nil
}

// watch 登记立即生效的期望，匹配 frame 上任意 loader 的同名事件；frame 为空时不限框架
func (t *eventTable) watch(seq uint64, name string, frame model.FrameID) (*expectation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	e := &expectation{seq: seq, name: name, frameID: frame, bound: true, done: make(chan result, 1)}
	t.pending = append(t.pending, e)
	return e, nil
}

// bind 绑定 loaderID，空串表示匹配任意 loader
func (t *eventTable) bind(e *expectation, loaderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.loaderID = loaderID
	e.bound = true
	for _, ev := range e.candidates {
		if e.matches(ev) {
			t.resolveLocked(e, result{ev: ev})
			return
		}
	}
	e.candidates = nil
}

// deliver 分发一个事件给最早登记且匹配的期望，无人认领则丢弃
func (t *eventTable) deliver(ev model.LifecycleEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.pending {
		if !e.bound {
			if ev.Name == e.name && len(e.candidates) < maxCandidates {
				e.candidates = append(e.candidates, ev)
			}
			continue
		}
		if e.matches(ev) {
			t.resolveLocked(e, result{ev: ev})
			return true
		}
	}
	return false
}

// cancel 撤销期望（超时或命令失败）
func (t *eventTable) cancel(e *expectation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(e)
}

// fail 连接断开时让所有期望失败，此后不再接受登记
func (t *eventTable) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	t.err = err
	for _, e := range t.pending {
		e.done <- result{err: err}
	}
	t.pending = nil
}

// wait 挂起直到期望被满足、失败或 ctx 结束
func (t *eventTable) wait(ctx context.Context, e *expectation) (model.LifecycleEvent, error) {
	select {
	case r := <-e.done:
		return r.ev, r.err
	case <-ctx.Done():
		t.cancel(e)
		return model.LifecycleEvent{}, ctx.Err()
	}
}

func (t *eventTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *eventTable) resolveLocked(e *expectation, r result) {
	if t.removeLocked(e) {
		e.done <- r
	}
}

func (t *eventTable) removeLocked(e *expectation) bool {
	for i, p := range t.pending {
		if p == e {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (e *expectation) matches(ev model.LifecycleEvent) bool {
	if ev.Name != e.name {
		return false
	}
	if e.frameID != "" && ev.FrameID != e.frameID {
		return false
	}
	return e.loaderID == "" || ev.LoaderID == e.loaderID
}
