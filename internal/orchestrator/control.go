package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"hncrawler/internal/browser"
	"hncrawler/internal/ctxkeys"
	"hncrawler/internal/interpreter"
	"hncrawler/internal/session"
	"hncrawler/pkg/action"
	"hncrawler/pkg/model"

	"github.com/cenkalti/backoff/v4"
)

const prompt = "> "

// Control 交互模式：逐行读取指令，解释后按顺序执行。
// exit/quit 或输入结束时返回 nil；ctx 取消时放弃当前指令并返回。
func (o *Orchestrator) Control(ctx context.Context, in io.Reader, out io.Writer) error {
	if o.interp == nil {
		return errors.New("控制模式需要指令解释器")
	}
	if err := o.ensureOpen(ctx); err != nil {
		return err
	}
	if err := o.state.Transition(session.AwaitingCommand); err != nil {
		return err
	}
	defer func() {
		if o.state.State() == session.AwaitingCommand {
			_ = o.state.Transition(session.SessionOpen)
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(in, stop)
	for {
		fmt.Fprint(out, prompt)
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := o.command(ctx, line, out); err != nil {
			return err
		}
	}
}

// command 处理一条指令；只有致命错误或取消才返回 error
func (o *Orchestrator) command(ctx context.Context, line string, out io.Writer) error {
	ctx, trace := ctxkeys.WithTraceID(ctx)
	l := o.log.With("traceId", trace, "command", line)

	o.interp.Observe(o.sess.URL())
	res, err := o.interpret(ctx, line)
	if err != nil {
		var ue *interpreter.UnavailableError
		if errors.As(err, &ue) {
			fmt.Fprintf(out, "语言模型不可用: %v\n", ue.Err)
			return nil
		}
		return err
	}

	if !res.Valid {
		report(out, res)
		l.Info("指令未执行", "rejected", len(res.Rejected), "actions", len(res.Actions))
		return nil
	}

	stale := false
	for i, a := range res.Actions {
		outc, err := o.exec(ctx, a)
		if err != nil {
			fmt.Fprintf(out, "失败 [%d/%d] %s: %v\n", i+1, len(res.Actions), a, err)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case browser.IsSessionFailure(err):
				if rerr := o.reopen(ctx, err, session.AwaitingCommand); rerr != nil {
					return rerr
				}
				fmt.Fprintln(out, "浏览器会话已重新打开，剩余动作已放弃")
			}
			return nil
		}
		printOutcome(out, i+1, len(res.Actions), a, outc)
		switch a.Kind() {
		case action.KindExtract:
			o.save(ctx, outc)
			if a.WholePage() {
				o.observePage(outc)
				stale = false
			}
		case action.KindNavigate, action.KindClick, action.KindHistory:
			stale = true
		}
	}
	if stale {
		o.refreshPage(ctx)
	}
	return nil
}

// refreshPage 页面可能已变化，重新提取并生成页面地图，失败只记录日志
func (o *Orchestrator) refreshPage(ctx context.Context) {
	outc, err := o.exec(ctx, action.ExtractPage())
	if err != nil {
		o.log.Warn("刷新页面地图失败", "error", err)
		return
	}
	o.observePage(outc)
}

func (o *Orchestrator) observePage(outc browser.Outcome) {
	pm, err := interpreter.MapPage(outc.Content, outc.URL, outc.Title, interpreter.MaxPageElements)
	if err != nil {
		o.log.Warn("解析页面地图失败", "url", outc.URL, "error", err)
		return
	}
	o.interp.ObservePage(pm)
	o.log.Debug("页面地图已更新", "url", pm.URL, "elements", len(pm.Elements))
}

// interpret 语言模型暂时不可用时按指数退避重试，至多 Retries 次；
// 鉴权失败等永久错误直接返回
func (o *Orchestrator) interpret(ctx context.Context, line string) (interpreter.InterpretationResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.RetryInterval
	b.MaxElapsedTime = 0

	var (
		res     interpreter.InterpretationResult
		attempt int
	)
	op := func() error {
		attempt++
		var err error
		res, err = o.interp.Interpret(ctx, line)
		if err == nil {
			return nil
		}
		var ue *interpreter.UnavailableError
		if !errors.As(err, &ue) || !ue.Retryable() {
			return backoff.Permanent(err)
		}
		o.log.Warn("语言模型不可用", "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.WithMaxRetries(b, uint64(o.opts.Retries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return interpreter.InterpretationResult{}, err
	}
	return res, nil
}

// save 控制模式下提取到的内容同样入库，失败只记录日志
func (o *Orchestrator) save(ctx context.Context, outc browser.Outcome) {
	if outc.URL == "" || o.store == nil {
		return
	}
	rec := &model.PageRecord{
		URL:      outc.URL,
		Title:    outc.Title,
		Content:  outc.Content,
		Analysis: Analyze(outc.Content, outc.URL, outc.Title),
	}
	if err := o.store.Upsert(ctx, rec); err != nil {
		o.log.Err(err, "保存提取结果失败", "url", outc.URL)
	}
}

func report(out io.Writer, res interpreter.InterpretationResult) {
	if res.Message != "" {
		fmt.Fprintln(out, res.Message)
	}
	if len(res.Actions) == 0 && len(res.Rejected) == 0 {
		fmt.Fprintln(out, "未解析出任何动作")
		return
	}
	fmt.Fprintf(out, "置信度低，未执行任何动作 (有效 %d, 拒绝 %d)\n", len(res.Actions), len(res.Rejected))
	for _, r := range res.Rejected {
		fmt.Fprintf(out, "  拒绝 %s\n", r)
	}
}

func printOutcome(out io.Writer, i, n int, a action.Action, outc browser.Outcome) {
	fmt.Fprintf(out, "完成 [%d/%d] %s (%s)", i, n, a, outc.Elapsed.Round(time.Millisecond))
	if outc.URL != "" {
		fmt.Fprintf(out, " %s", outc.URL)
	}
	if outc.Title != "" {
		fmt.Fprintf(out, " %q", outc.Title)
	}
	fmt.Fprintln(out)
	if a.Kind() == action.KindExtract {
		switch {
		case a.WholePage():
			fmt.Fprintf(out, "  页面内容 %d 字节\n", len(outc.Content))
		case len(outc.Fragments) == 0:
			fmt.Fprintln(out, "  没有匹配的元素")
		default:
			for _, f := range outc.Fragments {
				fmt.Fprintf(out, "  %s\n", truncate(f, 200))
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// readLines 后台逐行读取输入，输入结束时关闭通道
func readLines(in io.Reader, stop <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-stop:
				return
			}
		}
	}()
	return ch
}
