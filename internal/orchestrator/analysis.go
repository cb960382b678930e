package orchestrator

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/sjson"
)

// maxAnalysisLinks links.urls 最多保留的地址数
const maxAnalysisLinks = 200

// Analyze 生成页面概要 JSON：标题层级、页面链接及内外链数量、是否含登录表单。
// 解析失败时返回空对象。
func Analyze(html, pageURL, title string) string {
	out := `{}`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	base, _ := url.Parse(pageURL)

	out, _ = sjson.Set(out, "url", pageURL)
	out, _ = sjson.Set(out, "title", title)
	for _, h := range []string{"h1", "h2", "h3"} {
		out, _ = sjson.Set(out, "headings."+h, doc.Find(h).Length())
	}

	var internal, external, invalid int
	urls := []string{}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			invalid++
			return
		}
		var u *url.URL
		var err error
		if base != nil {
			u, err = base.Parse(href)
		} else {
			u, err = url.Parse(href)
		}
		if err != nil {
			invalid++
			return
		}
		if base != nil && u.Host == base.Host {
			internal++
		} else {
			external++
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		if s := u.String(); !seen[s] && len(urls) < maxAnalysisLinks {
			seen[s] = true
			urls = append(urls, s)
		}
	})
	out, _ = sjson.Set(out, "links.urls", urls)
	out, _ = sjson.Set(out, "links.internal_count", internal)
	out, _ = sjson.Set(out, "links.external_count", external)
	out, _ = sjson.Set(out, "links.inaccessible_count", invalid)
	out, _ = sjson.Set(out, "has_login_form", doc.Find(`form input[type="password"]`).Length() > 0)
	return out
}
