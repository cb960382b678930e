package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hncrawler/internal/browser"
	"hncrawler/internal/ctxkeys"
	"hncrawler/internal/session"
	"hncrawler/pkg/action"
	"hncrawler/pkg/model"

	"github.com/PuerkitoBio/goquery"
)

// Report 自动抓取结果统计
type Report struct {
	Attempted int
	Stored    int
	Failed    int
	Skipped   int
	URLs      []string
}

type crawlPlan struct {
	listing action.Action
	links   action.Action
	settle  action.Action
	page    action.Action
}

func (o *Orchestrator) plan() (crawlPlan, error) {
	var p crawlPlan
	var err error
	if p.listing, err = action.Navigate(o.opts.StartURL); err != nil {
		return p, err
	}
	if p.links, err = action.Extract(o.opts.LinkSelector); err != nil {
		return p, err
	}
	if o.opts.SettleDelay > 0 {
		if p.settle, err = action.Wait(action.WaitDelay, o.opts.SettleDelay); err != nil {
			return p, err
		}
	}
	p.page = action.ExtractPage()
	return p, nil
}

// Crawl 自动模式：打开列表页，取前若干篇文章逐一抓取并入库。
// 单篇失败记录后跳过；会话失败重连一次，再次失败返回错误。
func (o *Orchestrator) Crawl(ctx context.Context) (Report, error) {
	var rep Report
	p, err := o.plan()
	if err != nil {
		return rep, err
	}
	if err := o.ensureOpen(ctx); err != nil {
		return rep, err
	}
	if err := o.state.Transition(session.Crawling); err != nil {
		return rep, err
	}
	defer func() {
		if o.state.State() == session.Crawling {
			_ = o.state.Transition(session.SessionOpen)
		}
	}()

	links, err := o.listing(ctx, p)
	if err != nil {
		return rep, err
	}
	o.log.Info("解析到文章链接", "count", len(links), "listing", o.opts.StartURL)

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Attempted++
		actx, trace := ctxkeys.WithTraceID(ctx)
		l := o.log.With("traceId", trace, "index", i+1, "url", link)

		if o.opts.SkipExisting {
			ok, err := o.store.Exists(actx, link)
			if err != nil {
				l.Err(err, "查询已有记录失败")
			} else if ok {
				l.Info("文章已入库，跳过")
				rep.Skipped++
				continue
			}
		}

		err := o.article(actx, p, link)
		if err != nil && browser.IsSessionFailure(err) {
			if rerr := o.reopen(ctx, err, session.Crawling); rerr != nil {
				rep.Failed++
				return rep, rerr
			}
			l.Info("会话已重连，重试当前文章")
			err = o.article(actx, p, link)
		}

		switch {
		case err == nil:
			rep.Stored++
			rep.URLs = append(rep.URLs, link)
			l.Info("文章已入库")
		case ctx.Err() != nil:
			return rep, ctx.Err()
		case browser.IsSessionFailure(err):
			rep.Failed++
			return rep, fmt.Errorf("%w: %v", ErrSessionUnrecoverable, err)
		default:
			rep.Failed++
			l.Err(err, "文章抓取失败，跳过")
		}
	}

	o.log.Info("抓取完成", "attempted", rep.Attempted, "stored", rep.Stored, "failed", rep.Failed, "skipped", rep.Skipped)
	return rep, nil
}

// listing 打开列表页并解析文章链接，会话失败时重连一次
func (o *Orchestrator) listing(ctx context.Context, p crawlPlan) ([]string, error) {
	links, err := o.readListing(ctx, p)
	if err != nil && browser.IsSessionFailure(err) {
		if rerr := o.reopen(ctx, err, session.Crawling); rerr != nil {
			return nil, rerr
		}
		links, err = o.readListing(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("读取列表页失败: %w", err)
	}
	return links, nil
}

func (o *Orchestrator) readListing(ctx context.Context, p crawlPlan) ([]string, error) {
	if _, err := o.exec(ctx, p.listing); err != nil {
		return nil, err
	}
	out, err := o.exec(ctx, p.links)
	if err != nil {
		return nil, err
	}
	base := out.URL
	if base == "" {
		base = o.opts.StartURL
	}
	return ParseLinks(out.Fragments, base, o.opts.MaxArticles)
}

// article 抓取一篇文章；只有全部动作成功才写入存储
func (o *Orchestrator) article(ctx context.Context, p crawlPlan, link string) error {
	nav, err := action.Navigate(link)
	if err != nil {
		return err
	}
	if _, err := o.exec(ctx, nav); err != nil {
		return err
	}
	if !p.settle.IsZero() {
		if _, err := o.exec(ctx, p.settle); err != nil {
			return err
		}
	}
	out, err := o.exec(ctx, p.page)
	if err != nil {
		return err
	}

	rec := &model.PageRecord{
		URL:      link,
		Title:    out.Title,
		Content:  out.Content,
		Analysis: Analyze(out.Content, out.URL, out.Title),
	}
	if err := o.store.Upsert(ctx, rec); err != nil {
		return err
	}

	if _, err := o.exec(ctx, p.listing); err != nil {
		if browser.IsSessionFailure(err) {
			return err
		}
		o.log.Warn("返回列表页失败", "error", err)
	}
	return nil
}

// ParseLinks 从链接片段中解析出至多 limit 个绝对 http(s) 地址，去重并保持顺序
func ParseLinks(fragments []string, base string, limit int) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("列表页地址非法: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(strings.Join(fragments, "\n")))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		u, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return true
		}
		u.Fragment = ""
		s := u.String()
		if seen[s] {
			return true
		}
		seen[s] = true
		links = append(links, s)
		return len(links) < limit
	})
	return links, nil
}
