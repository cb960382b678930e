package api

import (
	"context"
	"errors"
	"io"

	"hncrawler/internal/browser"
	"hncrawler/internal/config"
	"hncrawler/internal/interpreter"
	"hncrawler/internal/logger"
	"hncrawler/internal/orchestrator"
	"hncrawler/internal/storage"
)

// Report 自动抓取结果统计
type Report = orchestrator.Report

// Service 服务接口
type Service interface {
	// Crawl 自动模式：抓取列表页前若干篇文章并入库
	Crawl(ctx context.Context) (Report, error)

	// Control 交互模式：从 in 读取自然语言指令并执行，结果写入 out
	Control(ctx context.Context, in io.Reader, out io.Writer) error

	// Close 关闭浏览器会话和存储
	Close() error
}

type service struct {
	store *storage.Store
	orch  *orchestrator.Orchestrator
	log   logger.Logger
}

// NewService 按配置装配存储、浏览器驱动和指令解释器。
// control 为 true 时校验并创建语言模型客户端。
func NewService(cfg *config.Config, control bool, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := cfg.Validate(control); err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Options{
		Dsn:    cfg.Sqlite.Dsn,
		Prefix: cfg.Sqlite.Prefix,
		Debug:  cfg.Log.Level == "debug",
	}, l)
	if err != nil {
		return nil, err
	}

	driver := browser.New(browser.Options{
		DevToolsURL:    cfg.Browser.DevToolsURL,
		Launch:         cfg.Browser.Launch,
		ExecPath:       cfg.Browser.ExecPath,
		Headless:       cfg.Browser.Headless,
		StartupTimeout: cfg.Browser.StartupTimeout,
		ActionTimeout:  cfg.Browser.ActionTimeout,
	}, l.With("component", "browser"))

	var interp orchestrator.Interpreter
	if control {
		oracle := interpreter.NewOpenAI(interpreter.OpenAIOptions{
			BaseURL: cfg.Oracle.BaseURL,
			Model:   cfg.Oracle.Model,
			APIKey:  cfg.Oracle.APIKey,
		}, l.With("component", "oracle"))
		interp = interpreter.New(oracle, interpreter.Options{
			Timeout: cfg.Oracle.Timeout,
			History: cfg.Oracle.History,
		}, l.With("component", "interpreter"))
	}

	orch := orchestrator.New(driver, store, interp, orchestrator.Options{
		StartURL:      cfg.Crawl.StartURL,
		LinkSelector:  cfg.Crawl.LinkSelector,
		MaxArticles:   cfg.Crawl.MaxArticles,
		SettleDelay:   cfg.Crawl.SettleDelay,
		SkipExisting:  cfg.Crawl.SkipExisting,
		Retries:       cfg.Oracle.Retries,
		RetryInterval: cfg.Oracle.RetryInterval,
	}, l)

	return &service{store: store, orch: orch, log: l}, nil
}

func (s *service) Crawl(ctx context.Context) (Report, error) {
	return s.orch.Crawl(ctx)
}

func (s *service) Control(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.orch.Control(ctx, in, out)
}

func (s *service) Close() error {
	return errors.Join(s.orch.Close(), s.store.Close())
}
