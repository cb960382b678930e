package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	adapter "hncrawler/internal/adapter/cdp"
	"hncrawler/internal/config"
	"hncrawler/internal/logger"
	"hncrawler/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

// ErrNoHistoryEntry 历史记录中不存在目标条目
var ErrNoHistoryEntry = errors.New("没有可导航的历史记录")

// Manager 持有一个页面目标的调试连接
type Manager struct {
	devtoolsURL string
	conn        *rpcc.Conn
	client      *cdp.Client
	ctx         context.Context
	cancel      context.CancelFunc
	lifecycle   page.LifecycleEventClient
	mainFrame   model.FrameID
	log         logger.Logger
}

// Attach 连接调试端点，附加到已有页面（没有则新建），并启用所需的域
func Attach(ctx context.Context, devtoolsURL string, l logger.Logger) (*Manager, error) {
	if l == nil {
		l = logger.NewNop()
	}
	dt := devtool.New(devtoolsURL)
	target, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		l.Debug("没有可用页面，新建目标", "error", err)
		target, err = dt.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取页面目标失败: %w", err)
		}
	}
	if err := checkWebSocket(target.WebSocketDebuggerURL); err != nil {
		return nil, err
	}

	// 连接生命周期独立于 Attach 的超时 ctx
	connCtx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("连接调试 WebSocket 失败: %w", err)
	}
	m := &Manager{
		devtoolsURL: devtoolsURL,
		conn:        conn,
		client:      cdp.NewClient(conn),
		ctx:         connCtx,
		cancel:      cancel,
		log:         l.With("target", target.ID),
	}
	// 先订阅再启用，事件流在 Attach 返回前就开始缓冲
	m.lifecycle, err = m.client.Page.LifecycleEvent(connCtx)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("订阅生命周期事件失败: %w", err)
	}
	if err := m.enable(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	if tree, err := m.client.Page.GetFrameTree(ctx); err == nil {
		m.mainFrame = model.FrameID(tree.FrameTree.Frame.ID)
	} else {
		m.log.Warn("读取框架树失败", "error", err)
	}
	m.log.Info("已附加页面目标", "url", target.URL, "frame", string(m.mainFrame))
	return m, nil
}

func checkWebSocket(ws string) error {
	u, err := url.Parse(ws)
	if err != nil {
		return fmt.Errorf("调试 WebSocket 地址非法: %w", err)
	}
	return config.CheckLoopback("ws://" + u.Host)
}

func (m *Manager) enable(ctx context.Context) error {
	if err := rpcc.Invoke(ctx, "Page.enable", nil, nil, m.conn); err != nil {
		return fmt.Errorf("启用 Page 域失败: %w", err)
	}
	if err := rpcc.Invoke(ctx, "Runtime.enable", nil, nil, m.conn); err != nil {
		return fmt.Errorf("启用 Runtime 域失败: %w", err)
	}
	if err := rpcc.Invoke(ctx, "DOM.enable", nil, nil, m.conn); err != nil {
		return fmt.Errorf("启用 DOM 域失败: %w", err)
	}
	if err := m.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("启用 Network 域失败: %w", err)
	}
	if err := m.client.Page.SetLifecycleEventsEnabled(ctx, page.NewSetLifecycleEventsEnabledArgs(true)); err != nil {
		return fmt.Errorf("启用生命周期事件失败: %w", err)
	}
	return nil
}

// Navigate 发起导航，返回主框架的 loaderID；同文档导航时 loaderID 为空
func (m *Manager) Navigate(ctx context.Context, rawURL string) (string, error) {
	reply, err := m.client.Page.Navigate(ctx, page.NewNavigateArgs(rawURL))
	if err != nil {
		return "", err
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return "", fmt.Errorf("导航失败: %s", *reply.ErrorText)
	}
	if reply.LoaderID == nil {
		return "", nil
	}
	return string(*reply.LoaderID), nil
}

// NavigateHistory 按 delta 在历史记录中移动，返回目标条目的 URL
func (m *Manager) NavigateHistory(ctx context.Context, delta int) (string, error) {
	h, err := m.client.Page.GetNavigationHistory(ctx)
	if err != nil {
		return "", err
	}
	entries := adapter.ToHistoryEntries(h.Entries)
	idx := h.CurrentIndex + delta
	if idx < 0 || idx >= len(entries) {
		return "", ErrNoHistoryEntry
	}
	if err := m.client.Page.NavigateToHistoryEntry(ctx, page.NewNavigateToHistoryEntryArgs(entries[idx].ID)); err != nil {
		return "", err
	}
	return entries[idx].URL, nil
}

// Evaluate 执行表达式并按值返回结果的原始 JSON
func (m *Manager) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := m.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return nil, err
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("脚本异常: %s", reply.ExceptionDetails.Text)
	}
	return reply.Result.Value, nil
}

// DocumentHTML 返回整个文档的 outerHTML
func (m *Manager) DocumentHTML(ctx context.Context) (string, error) {
	doc, err := m.client.DOM.GetDocument(ctx, nil)
	if err != nil {
		return "", err
	}
	html, err := m.client.DOM.GetOuterHTML(ctx, dom.NewGetOuterHTMLArgs().SetNodeID(doc.Root.NodeID))
	if err != nil {
		return "", err
	}
	return html.OuterHTML, nil
}

// MainFrame 页面主框架 ID，未知时为空
func (m *Manager) MainFrame() model.FrameID {
	return m.mainFrame
}

// ConsumeLifecycle 消费 Attach 时建立的生命周期事件流直到连接关闭，返回导致退出的错误
func (m *Manager) ConsumeLifecycle(deliver func(model.LifecycleEvent)) error {
	stream := m.lifecycle
	defer stream.Close()

	m.log.Debug("开始消费生命周期事件")
	for {
		ev, err := stream.Recv()
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Err(err, "生命周期事件流中断")
			}
			return err
		}
		deliver(adapter.ToLifecycleEvent(ev))
	}
}

// Done 连接断开或关闭后关闭
func (m *Manager) Done() <-chan struct{} {
	return m.conn.Context().Done()
}

// Close 关闭连接
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
