package action

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/andybalholm/cascadia"
)

// Kind 动作类型
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindExtract  Kind = "extract"
	KindWait     Kind = "wait"
	KindScroll   Kind = "scroll"
	KindHistory  Kind = "history"
)

// 等待条件，除以下两个关键字外其余值均视为 CSS 选择器
const (
	WaitLoad  = "load"
	WaitDelay = "delay"
)

// 历史导航方向
const (
	Back    = "back"
	Forward = "forward"
)

const (
	MaxSelectorLen = 512
	MaxWaitTimeout = 60 * time.Second
	MaxScrollPixel = 100000
)

// Action 单个浏览器动作，只能通过构造函数创建，创建后不可变
type Action struct {
	kind      Kind
	url       string
	selector  string
	condition string
	timeout   time.Duration
	amount    int
	direction string
}

// InvalidActionError 动作参数非法
type InvalidActionError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("非法动作 %s: 参数 %s %s", e.Kind, e.Field, e.Reason)
}

func invalid(k Kind, field, reason string) *InvalidActionError {
	return &InvalidActionError{Kind: k, Field: field, Reason: reason}
}

// Navigate 导航到绝对 http/https 地址
func Navigate(rawURL string) (Action, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Action{}, invalid(KindNavigate, "url", "无法解析")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Action{}, invalid(KindNavigate, "url", "仅支持 http/https")
	}
	if u.Host == "" {
		return Action{}, invalid(KindNavigate, "url", "缺少主机名")
	}
	return Action{kind: KindNavigate, url: u.String()}, nil
}

// Click 点击匹配选择器的第一个元素
func Click(selector string) (Action, error) {
	sel, err := checkSelector(KindClick, selector)
	if err != nil {
		return Action{}, err
	}
	return Action{kind: KindClick, selector: sel}, nil
}

// Extract 提取匹配元素的 outerHTML，选择器为空时提取整个页面
func Extract(selector string) (Action, error) {
	if strings.TrimSpace(selector) == "" {
		return Action{kind: KindExtract}, nil
	}
	sel, err := checkSelector(KindExtract, selector)
	if err != nil {
		return Action{}, err
	}
	return Action{kind: KindExtract, selector: sel}, nil
}

// ExtractPage 提取整个页面
func ExtractPage() Action { return Action{kind: KindExtract} }

// Wait 等待条件满足，timeout 必须为正
func Wait(condition string, timeout time.Duration) (Action, error) {
	if timeout <= 0 {
		return Action{}, invalid(KindWait, "timeout", "必须大于 0")
	}
	if timeout > MaxWaitTimeout {
		return Action{}, invalid(KindWait, "timeout", fmt.Sprintf("不能超过 %s", MaxWaitTimeout))
	}
	cond := strings.TrimSpace(condition)
	switch cond {
	case "":
		cond = WaitDelay
	case WaitLoad, WaitDelay:
	default:
		sel, err := checkSelector(KindWait, cond)
		if err != nil {
			return Action{}, err
		}
		cond = sel
	}
	return Action{kind: KindWait, condition: cond, timeout: timeout}, nil
}

// Scroll 垂直滚动，正数向下
func Scroll(amount int) (Action, error) {
	if amount == 0 {
		return Action{}, invalid(KindScroll, "amount", "不能为 0")
	}
	if amount > MaxScrollPixel || amount < -MaxScrollPixel {
		return Action{}, invalid(KindScroll, "amount", fmt.Sprintf("绝对值不能超过 %d", MaxScrollPixel))
	}
	return Action{kind: KindScroll, amount: amount}, nil
}

// History 浏览器历史后退或前进
func History(direction string) (Action, error) {
	d := strings.ToLower(strings.TrimSpace(direction))
	if d != Back && d != Forward {
		return Action{}, invalid(KindHistory, "direction", "只能是 back 或 forward")
	}
	return Action{kind: KindHistory, direction: d}, nil
}

func checkSelector(k Kind, selector string) (string, error) {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return "", invalid(k, "selector", "不能为空")
	}
	if len(sel) > MaxSelectorLen {
		return "", invalid(k, "selector", fmt.Sprintf("长度不能超过 %d", MaxSelectorLen))
	}
	for _, r := range sel {
		if unicode.IsControl(r) {
			return "", invalid(k, "selector", "包含控制字符")
		}
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return "", invalid(k, "selector", "不是合法的 CSS 选择器")
	}
	return sel, nil
}

func (a Action) Kind() Kind { return a.kind }
func (a Action) URL() string { return a.url }
func (a Action) Selector() string { return a.selector }
func (a Action) Condition() string { return a.condition }
func (a Action) Timeout() time.Duration { return a.timeout }
func (a Action) Amount() int { return a.amount }
func (a Action) Direction() string { return a.direction }
func (a Action) IsZero() bool { return a.kind == "" }
func (a Action) WholePage() bool { return a.kind == KindExtract && a.selector == "" }

// String 返回便于日志和终端展示的描述
func (a Action) String() string {
	switch a.kind {
	case KindNavigate:
		return fmt.Sprintf("navigate(%s)", a.url)
	case KindClick:
		return fmt.Sprintf("click(%q)", a.selector)
	case KindExtract:
		if a.selector == "" {
			return "extract(page)"
		}
		return fmt.Sprintf("extract(%q)", a.selector)
	case KindWait:
		return fmt.Sprintf("wait(%s, %s)", a.condition, a.timeout)
	case KindScroll:
		return fmt.Sprintf("scroll(%d)", a.amount)
	case KindHistory:
		return fmt.Sprintf("history(%s)", a.direction)
	}
	return "invalid"
}
