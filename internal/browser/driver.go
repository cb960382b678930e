package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	adapter "hncrawler/internal/adapter/cdp"
	"hncrawler/internal/cdp"
	"hncrawler/internal/config"
	"hncrawler/internal/logger"
	"hncrawler/pkg/action"
	"hncrawler/pkg/model"

	"github.com/google/uuid"
)

const loadEvent = "load"

// Options 驱动配置
type Options struct {
	DevToolsURL    string
	Launch         bool
	ExecPath       string
	Headless       bool
	StartupTimeout time.Duration
	ActionTimeout  time.Duration
	PollInterval   time.Duration
	// NavigationGrace 点击后等待其触发导航的时间
	NavigationGrace time.Duration
}

// Outcome 动作执行结果；Content/Fragments 仅 Extract 有值
type Outcome struct {
	Seq       uint64
	Kind      action.Kind
	URL       string
	Title     string
	Content   string
	Fragments []string
	Elapsed   time.Duration
}

type dialFunc func(ctx context.Context) (transport, func(), error)

// Driver 浏览器会话驱动：在异步协议之上提供同步的动作执行
type Driver struct {
	opts Options
	log  logger.Logger
	dial dialFunc
}

// New 创建驱动
func New(opts Options, l logger.Logger) *Driver {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.NavigationGrace <= 0 || opts.NavigationGrace >= opts.ActionTimeout {
		opts.NavigationGrace = min(500*time.Millisecond, opts.ActionTimeout/4)
	}
	d := &Driver{opts: opts, log: l}
	d.dial = d.dialBrowser
	return d
}

// Open 建立调试连接，必要时启动浏览器
func (d *Driver) Open(ctx context.Context) (*Session, error) {
	if err := config.CheckLoopback(d.opts.DevToolsURL); err != nil {
		return nil, &ConnectionError{Endpoint: d.opts.DevToolsURL, Err: err}
	}
	tr, stop, err := d.dial(ctx)
	if err != nil {
		return nil, &ConnectionError{Endpoint: d.opts.DevToolsURL, Err: err}
	}

	s := newSession(model.SessionID(uuid.NewString()), tr)
	s.stop = stop
	go s.pump()

	if raw, err := tr.Evaluate(ctx, pageInfoScript); err == nil {
		u, _ := adapter.ToPageInfo(raw)
		s.setURL(u)
	}
	d.log.Info("浏览器会话已打开", "sessionID", string(s.ID), "url", s.URL())
	return s, nil
}

func (d *Driver) dialBrowser(ctx context.Context) (transport, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.StartupTimeout)
	defer cancel()

	stop := func() {}
	probe, stopProbe := context.WithTimeout(ctx, time.Second)
	err := cdp.Ready(probe, d.opts.DevToolsURL)
	stopProbe()
	if err != nil {
		if !d.opts.Launch {
			return nil, nil, err
		}
		proc, err := cdp.Launch(cdp.LaunchOptions{ExecPath: d.opts.ExecPath, Port: portOf(d.opts.DevToolsURL), Headless: d.opts.Headless}, d.log)
		if err != nil {
			return nil, nil, err
		}
		stop = proc.Stop
		if err := cdp.WaitReady(ctx, d.opts.DevToolsURL, d.opts.StartupTimeout); err != nil {
			stop()
			return nil, nil, err
		}
	}

	m, err := cdp.Attach(ctx, d.opts.DevToolsURL, d.log)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return m, stop, nil
}

func portOf(devtoolsURL string) string {
	u, err := url.Parse(devtoolsURL)
	if err != nil || u.Port() == "" {
		return "9222"
	}
	return u.Port()
}

// Execute 在会话上执行一个动作，直到完成事件到达或超时。
// 同一会话上的动作严格按提交顺序串行执行。
func (d *Driver) Execute(ctx context.Context, s *Session, a action.Action) (Outcome, error) {
	if s == nil {
		return Outcome{}, errors.New("会话为空")
	}
	if a.IsZero() {
		return Outcome{}, &action.InvalidActionError{Field: "kind", Reason: "空动作"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unusable(); err != nil {
		return Outcome{}, &SessionLostError{SessionID: string(s.ID), Err: err}
	}
	s.seq++
	seq := s.seq

	timeout := d.opts.ActionTimeout
	budget := timeout
	if a.Kind() == action.KindWait {
		timeout = a.Timeout()
		budget = timeout
		if a.Condition() == action.WaitDelay {
			budget = timeout + time.Second
		}
	}
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	l := d.log.With("sessionID", string(s.ID), "seq", seq, "action", a.String())
	l.Debug("开始执行动作")
	start := time.Now()

	out, err := d.run(actx, s, seq, a)
	if err == nil {
		out.Seq = seq
		out.Kind = a.Kind()
		out.Elapsed = time.Since(start)
		if out.URL == "" {
			out.URL = s.URL()
		}
		l.Debug("动作完成", "duration", out.Elapsed, "url", out.URL)
		return out, nil
	}

	var lost *SessionLostError
	switch {
	case ctx.Err() != nil:
		l.Warn("动作被取消", "error", ctx.Err())
		return Outcome{}, fmt.Errorf("动作 #%d %s 已取消: %w", seq, a, ctx.Err())
	case errors.As(err, &lost):
		l.Err(err, "会话已断开")
		return Outcome{}, err
	case s.disconnected():
		s.markLost(err)
		l.Err(err, "会话已断开")
		return Outcome{}, &SessionLostError{SessionID: string(s.ID), Err: err}
	case actx.Err() == context.DeadlineExceeded:
		te := &ActionTimeoutError{Action: a, Seq: seq, Timeout: timeout}
		var ce *conditionError
		if errors.As(err, &ce) {
			te.Reason = ce.reason
		}
		l.Warn("动作超时", "timeout", timeout, "reason", te.Reason)
		return Outcome{}, te
	default:
		l.Err(err, "动作执行失败")
		return Outcome{}, fmt.Errorf("动作 #%d %s 失败: %w", seq, a, err)
	}
}

func (d *Driver) run(ctx context.Context, s *Session, seq uint64, a action.Action) (Outcome, error) {
	switch a.Kind() {
	case action.KindNavigate:
		if err := d.navigate(ctx, s, seq, a.URL()); err != nil {
			return Outcome{}, err
		}
		return d.pageInfo(ctx, s), nil

	case action.KindClick:
		return d.click(ctx, s, seq, a.Selector())

	case action.KindExtract:
		return d.extract(ctx, s, a)

	case action.KindWait:
		switch a.Condition() {
		case action.WaitDelay:
			t := time.NewTimer(a.Timeout())
			defer t.Stop()
			select {
			case <-t.C:
				return Outcome{}, nil
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			}
		case action.WaitLoad:
			return Outcome{}, d.poll(ctx, s, readyScript, "页面未加载完成")
		default:
			return Outcome{}, d.poll(ctx, s, existsScript(a.Condition()), "未出现元素: "+a.Condition())
		}

	case action.KindScroll:
		_, err := s.tr.Evaluate(ctx, scrollScript(a.Amount()))
		return Outcome{}, err

	case action.KindHistory:
		delta := -1
		if a.Direction() == action.Forward {
			delta = 1
		}
		target, err := s.tr.NavigateHistory(ctx, delta)
		if err != nil {
			return Outcome{}, err
		}
		if err := d.poll(ctx, s, arrivedScript(target), "历史导航未完成"); err != nil {
			return Outcome{}, err
		}
		return d.pageInfo(ctx, s), nil
	}
	return Outcome{}, fmt.Errorf("不支持的动作类型: %s", a.Kind())
}

// navigate 登记 load 事件 -> 发送导航 -> 绑定 loaderID -> 等待匹配事件
func (d *Driver) navigate(ctx context.Context, s *Session, seq uint64, rawURL string) error {
	exp, err := s.events.expect(seq, loadEvent)
	if err != nil {
		return err
	}
	loaderID, err := s.tr.Navigate(ctx, rawURL)
	if err != nil {
		s.events.cancel(exp)
		return err
	}
	if loaderID == "" {
		s.events.cancel(exp)
		s.setURL(rawURL)
		return nil
	}
	s.events.bind(exp, loaderID)
	if _, err := s.events.wait(ctx, exp); err != nil {
		var lost *SessionLostError
		if errors.As(err, &lost) {
			return err
		}
		return &conditionError{reason: "未收到 load 事件", err: err}
	}
	s.setURL(rawURL)
	return nil
}

// click 点击前登记主框架的下一次 load 事件。点击在宽限期内触发导航时等待新页面加载完成，
// 宽限期过后文档仍在加载则轮询至就绪，否则视为没有导航。
func (d *Driver) click(ctx context.Context, s *Session, seq uint64, sel string) (Outcome, error) {
	exp, err := s.events.watch(seq, loadEvent, s.tr.MainFrame())
	if err != nil {
		return Outcome{}, err
	}
	if err := d.poll(ctx, s, clickScript(sel), "未找到元素: "+sel); err != nil {
		s.events.cancel(exp)
		return Outcome{}, err
	}

	gctx, cancel := context.WithTimeout(ctx, d.opts.NavigationGrace)
	_, err = s.events.wait(gctx, exp)
	cancel()
	var lost *SessionLostError
	switch {
	case err == nil:
	case errors.As(err, &lost):
		return Outcome{}, err
	case ctx.Err() != nil:
		return Outcome{}, &conditionError{reason: "点击触发的导航未完成", err: ctx.Err()}
	default:
		if err := d.poll(ctx, s, readyScript, "点击触发的导航未完成"); err != nil {
			return Outcome{}, err
		}
	}
	return d.pageInfo(ctx, s), nil
}

func (d *Driver) extract(ctx context.Context, s *Session, a action.Action) (Outcome, error) {
	var out Outcome
	if a.WholePage() {
		html, err := s.tr.DocumentHTML(ctx)
		if err != nil {
			return Outcome{}, err
		}
		out.Content = html
	} else {
		raw, err := s.tr.Evaluate(ctx, fragmentsScript(a.Selector()))
		if err != nil {
			return Outcome{}, err
		}
		out.Fragments = adapter.ToStrings(raw)
		out.Content = strings.Join(out.Fragments, "\n")
	}
	raw, err := s.tr.Evaluate(ctx, pageInfoScript)
	if err != nil {
		return Outcome{}, err
	}
	out.URL, out.Title = adapter.ToPageInfo(raw)
	s.setURL(out.URL)
	return out, nil
}

// pageInfo 尽力读取当前地址和标题，点击触发的导航可能使执行上下文失效
func (d *Driver) pageInfo(ctx context.Context, s *Session) Outcome {
	raw, err := s.tr.Evaluate(ctx, pageInfoScript)
	if err != nil {
		return Outcome{}
	}
	var out Outcome
	out.URL, out.Title = adapter.ToPageInfo(raw)
	s.setURL(out.URL)
	return out
}

// conditionError 轮询条件直到超时仍未满足
type conditionError struct {
	reason string
	err    error
}

func (e *conditionError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *conditionError) Unwrap() error { return e.err }

// poll 反复执行布尔表达式直到为真；执行错误（如导航中上下文销毁）不中断轮询
func (d *Driver) poll(ctx context.Context, s *Session, expr, reason string) error {
	tick := time.NewTicker(d.opts.PollInterval)
	defer tick.Stop()
	for {
		raw, err := s.tr.Evaluate(ctx, expr)
		if err == nil && adapter.ToBool(raw) {
			return nil
		}
		if err != nil && s.disconnected() {
			return err
		}
		select {
		case <-ctx.Done():
			return &conditionError{reason: reason, err: ctx.Err()}
		case <-tick.C:
		}
	}
}

// Close 释放连接并结束由驱动启动的浏览器进程，可重复调用
func (d *Driver) Close(s *Session) error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.closed = true
		s.stateMu.Unlock()

		err = s.tr.Close()
		select {
		case <-s.pumpDone:
		case <-time.After(2 * time.Second):
			d.log.Warn("等待事件泵退出超时", "sessionID", string(s.ID))
		}
		if s.stop != nil {
			s.stop()
		}
		d.log.Info("浏览器会话已关闭", "sessionID", string(s.ID))
	})
	return err
}
