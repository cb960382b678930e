package interpreter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// MaxPageElements 页面地图默认保留的元素数
const MaxPageElements = 40

const maxElementText = 80

// interactable 视为可交互的元素
const interactable = `a[href], button, input:not([type="hidden"]), select, textarea, [onclick], [role="button"]`

var cssIdent = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_-]*$`)

// PageElement 页面上的一个可交互元素
type PageElement struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector"`
	Href     string `json:"href,omitempty"`
}

// PageMap 当前页面的可交互元素摘要，随请求发给语言模型
type PageMap struct {
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Elements []PageElement `json:"elements"`
}

// IsZero 没有任何元素
func (p PageMap) IsZero() bool {
	return len(p.Elements) == 0
}

// MapPage 从页面 HTML 中按文档顺序提取至多 limit 个可交互元素。
// 每个元素附带一个在本页唯一命中的选择器，链接地址按 pageURL 解析为绝对地址。
func MapPage(html, pageURL, title string, limit int) (PageMap, error) {
	if limit <= 0 {
		limit = MaxPageElements
	}
	pm := PageMap{URL: pageURL, Title: title}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return pm, err
	}
	if pm.Title == "" {
		pm.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	base, _ := url.Parse(pageURL)

	seen := make(map[string]bool)
	doc.Find(interactable).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		selector := selectorFor(sel)
		if selector == "" || seen[selector] {
			return true
		}
		if _, err := cascadia.Compile(selector); err != nil {
			return true
		}
		if doc.Find(selector).Length() != 1 {
			return true
		}

		el := PageElement{
			Tag:      goquery.NodeName(sel),
			Text:     elementText(sel),
			Selector: selector,
		}
		if href, ok := sel.Attr("href"); ok {
			el.Href = resolve(base, href)
		}
		if el.Text == "" && !strings.HasPrefix(el.Href, "http") {
			return true
		}
		seen[selector] = true
		pm.Elements = append(pm.Elements, el)
		return len(pm.Elements) < limit
	})
	return pm, nil
}

// selectorFor 自元素向上拼出 tag:nth-of-type 路径，遇到带 id 的祖先即停止
func selectorFor(sel *goquery.Selection) string {
	var parts []string
	for n := sel; n.Length() > 0; n = n.Parent() {
		tag := goquery.NodeName(n)
		if id, ok := n.Attr("id"); ok && id != "" {
			switch {
			case cssIdent.MatchString(id):
				parts = append(parts, "#"+id)
				return join(parts)
			case !strings.ContainsAny(id, `"\`):
				parts = append(parts, fmt.Sprintf(`%s[id="%s"]`, tag, id))
				return join(parts)
			}
		}
		if tag == "body" || tag == "html" {
			parts = append(parts, tag)
			return join(parts)
		}
		idx := n.PrevAllFiltered(tag).Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, idx))
	}
	return join(parts)
}

func join(parts []string) string {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func elementText(sel *goquery.Selection) string {
	text := strings.Join(strings.Fields(sel.Text()), " ")
	if text == "" {
		for _, attr := range []string{"aria-label", "title", "placeholder", "value", "name"} {
			if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
				text = strings.TrimSpace(v)
				break
			}
		}
	}
	if utf8.RuneCountInString(text) > maxElementText {
		text = string([]rune(text)[:maxElementText]) + "..."
	}
	return text
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}
