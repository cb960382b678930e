package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hncrawler/internal/browser"
	"hncrawler/internal/interpreter"
	"hncrawler/internal/logger"
	"hncrawler/internal/session"
	"hncrawler/pkg/action"
	"hncrawler/pkg/model"
)

// Driver 浏览器会话驱动
type Driver interface {
	Open(ctx context.Context) (*browser.Session, error)
	Execute(ctx context.Context, s *browser.Session, a action.Action) (browser.Outcome, error)
	Close(s *browser.Session) error
}

// Store 页面记录存储
type Store interface {
	Upsert(ctx context.Context, rec *model.PageRecord) error
	Exists(ctx context.Context, url string) (bool, error)
}

// Interpreter 自然语言指令解释器
type Interpreter interface {
	Interpret(ctx context.Context, text string) (interpreter.InterpretationResult, error)
	Observe(currentURL string)
	ObservePage(p interpreter.PageMap)
}

// Options 编排策略
type Options struct {
	StartURL     string
	LinkSelector string
	MaxArticles  int
	SettleDelay  time.Duration
	SkipExisting bool
	// Retries 语言模型不可用时的重试次数
	Retries int
	// RetryInterval 首次重试前的等待
	RetryInterval time.Duration
}

// ErrSessionUnrecoverable 重连后会话再次失败
var ErrSessionUnrecoverable = errors.New("浏览器会话重连后再次失败")

// Orchestrator 驱动自动抓取或交互控制模式
type Orchestrator struct {
	driver Driver
	store  Store
	interp Interpreter
	state  *session.Manager
	opts   Options
	log    logger.Logger

	sess     *browser.Session
	reopened bool
}

// New 创建编排器；interp 仅控制模式需要
func New(d Driver, st Store, interp Interpreter, opts Options, l logger.Logger) *Orchestrator {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.MaxArticles <= 0 || opts.MaxArticles > 5 {
		opts.MaxArticles = 5
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.LinkSelector == "" {
		opts.LinkSelector = ".titleline > a"
	}
	return &Orchestrator{
		driver: d,
		store:  st,
		interp: interp,
		state:  session.NewManager(l),
		opts:   opts,
		log:    l,
	}
}

// State 当前生命周期状态
func (o *Orchestrator) State() session.State { return o.state.State() }

// Close 关闭浏览器会话，可重复调用
func (o *Orchestrator) Close() error {
	var err error
	if o.sess != nil {
		err = o.driver.Close(o.sess)
		o.sess = nil
	}
	o.state.Close()
	return err
}

func (o *Orchestrator) ensureOpen(ctx context.Context) error {
	if o.sess != nil {
		return nil
	}
	s, err := o.driver.Open(ctx)
	if err != nil {
		return err
	}
	if err := o.state.Bind(s.ID); err != nil {
		_ = o.driver.Close(s)
		return err
	}
	o.sess = s
	return nil
}

// reopen 会话失败后重新打开一次，resume 为重连后要回到的状态
func (o *Orchestrator) reopen(ctx context.Context, cause error, resume session.State) error {
	if o.reopened {
		return fmt.Errorf("%w: %v", ErrSessionUnrecoverable, cause)
	}
	o.reopened = true
	o.log.Warn("浏览器会话失败，尝试重新打开", "error", cause)

	if o.sess != nil {
		_ = o.driver.Close(o.sess)
		o.sess = nil
	}
	s, err := o.driver.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnrecoverable, err)
	}
	o.sess = s
	if err := o.state.Bind(s.ID); err != nil {
		return err
	}
	return o.state.Transition(resume)
}

func (o *Orchestrator) exec(ctx context.Context, a action.Action) (browser.Outcome, error) {
	return o.driver.Execute(ctx, o.sess, a)
}
