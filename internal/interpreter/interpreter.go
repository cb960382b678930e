package interpreter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"hncrawler/internal/logger"
	"hncrawler/pkg/action"

	"github.com/tidwall/gjson"
)

// MaxActions 单条指令最多解析出的动作数
const MaxActions = 20

// Options 解释器配置
type Options struct {
	Timeout time.Duration
	History int
}

// Rejection 一条未通过校验的建议
type Rejection struct {
	Name   string
	Reason string
}

func (r Rejection) String() string {
	return r.Name + ": " + r.Reason
}

// InterpretationResult 解释结果；Actions 中每个动作都已通过构造校验
type InterpretationResult struct {
	Actions  []action.Action
	Valid    bool
	Rejected []Rejection
	Message  string
}

// Interpreter 把自然语言指令翻译为经过校验的动作序列
type Interpreter struct {
	oracle Oracle
	opts   Options
	log    logger.Logger

	mu      sync.Mutex
	history []Turn
	current string
	page    PageMap
}

// New 创建解释器
func New(o Oracle, opts Options, l logger.Logger) *Interpreter {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.History < 0 {
		opts.History = 0
	}
	return &Interpreter{oracle: o, opts: opts, log: l}
}

// Observe 记录浏览器当前地址，随下一次请求发送；地址变化后旧的页面地图作废
func (i *Interpreter) Observe(currentURL string) {
	i.mu.Lock()
	i.current = currentURL
	if i.page.URL != currentURL {
		i.page = PageMap{}
	}
	i.mu.Unlock()
}

// ObservePage 记录当前页面的可交互元素，供语言模型选择选择器
func (i *Interpreter) ObservePage(p PageMap) {
	i.mu.Lock()
	i.page = p
	if p.URL != "" {
		i.current = p.URL
	}
	i.mu.Unlock()
}

// Interpret 向语言模型请求建议并逐条校验。
// 任一建议被拒绝时结果标记为低置信度 (Valid=false)。
func (i *Interpreter) Interpret(ctx context.Context, text string) (InterpretationResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return InterpretationResult{Message: "空指令"}, nil
	}

	i.mu.Lock()
	req := Request{
		Text:       text,
		Vocabulary: action.Vocabulary(),
		CurrentURL: i.current,
		Page:       i.page,
		History:    append([]Turn(nil), i.history...),
	}
	i.mu.Unlock()

	octx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	start := time.Now()
	sug, err := i.oracle.Suggest(octx, req)
	if err != nil {
		if ctx.Err() != nil {
			return InterpretationResult{}, fmt.Errorf("解释已取消: %w", ctx.Err())
		}
		var ue *UnavailableError
		if !errors.As(err, &ue) {
			err = &UnavailableError{Err: err}
		}
		i.log.Err(err, "语言模型调用失败", "duration", time.Since(start))
		return InterpretationResult{}, err
	}

	calls := sug.Calls
	if len(calls) == 0 {
		calls = embeddedCalls(sug.Text)
	}
	res := Decode(calls)
	res.Message = strings.TrimSpace(sug.Text)

	i.remember(text, res.Actions)
	i.log.Info("指令解释完成", "command", text, "actions", len(res.Actions), "rejected", len(res.Rejected), "valid", res.Valid, "duration", time.Since(start))
	return res, nil
}

func (i *Interpreter) remember(text string, acts []action.Action) {
	if i.opts.History == 0 {
		return
	}
	t := Turn{Command: text}
	for _, a := range acts {
		t.Actions = append(t.Actions, a.String())
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = append(i.history, t)
	if n := len(i.history) - i.opts.History; n > 0 {
		i.history = append([]Turn(nil), i.history[n:]...)
	}
}

// Decode 逐条校验建议的函数调用；未知名称和非法参数进入 Rejected
func Decode(calls []Call) InterpretationResult {
	var res InterpretationResult
	for idx, c := range calls {
		if idx >= MaxActions {
			res.Rejected = append(res.Rejected, Rejection{Name: c.Name, Reason: fmt.Sprintf("超过单条指令动作上限 %d", MaxActions)})
			continue
		}
		a, err := toAction(c)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: c.Name, Reason: err.Error()})
			continue
		}
		res.Actions = append(res.Actions, a)
	}
	res.Valid = len(res.Actions) > 0 && len(res.Rejected) == 0
	return res
}

// aliases 兼容旧版工具名
var aliases = map[string]string{
	"navigate_to_url":  "navigate",
	"click_element":    "click",
	"scroll_page":      "scroll",
	"get_page_content": "extract",
	"get_page_title":   "extract_title",
	"go_back":          "back",
	"go_forward":       "forward",
}

func toAction(c Call) (action.Action, error) {
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if !gjson.Valid(raw) {
		return action.Action{}, errors.New("参数不是合法 JSON")
	}
	args := gjson.Parse(raw)
	if !args.IsObject() {
		return action.Action{}, errors.New("参数必须是 JSON 对象")
	}

	name := strings.ToLower(strings.TrimSpace(c.Name))
	if alias, ok := aliases[name]; ok {
		name = alias
	}

	switch name {
	case "navigate":
		return action.Navigate(args.Get("url").String())
	case "click":
		return action.Click(args.Get("selector").String())
	case "extract":
		return action.Extract(args.Get("selector").String())
	case "extract_title":
		return action.Extract("title")
	case "wait":
		ms, err := integer(args, "timeout_ms")
		if err != nil {
			return action.Action{}, err
		}
		if ms <= 0 || ms > action.MaxWaitTimeout.Milliseconds() {
			return action.Action{}, fmt.Errorf("参数 timeout_ms 超出范围 (1-%d)", action.MaxWaitTimeout.Milliseconds())
		}
		return action.Wait(args.Get("condition").String(), time.Duration(ms)*time.Millisecond)
	case "scroll":
		n, err := integer(args, "amount")
		if err != nil {
			return action.Action{}, err
		}
		if n > action.MaxScrollPixel || n < -action.MaxScrollPixel {
			return action.Action{}, fmt.Errorf("参数 amount 超出范围 (±%d)", action.MaxScrollPixel)
		}
		return action.Scroll(int(n))
	case "history":
		return action.History(args.Get("direction").String())
	case "back":
		return action.History(action.Back)
	case "forward":
		return action.History(action.Forward)
	}
	return action.Action{}, fmt.Errorf("未知动作 %q", c.Name)
}

func integer(args gjson.Result, field string) (int64, error) {
	v := args.Get(field)
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > 1<<53 {
		return 0, fmt.Errorf("参数 %s 必须是整数", field)
	}
	return v.Int(), nil
}

// embeddedCalls 回复没有函数调用时，尝试从文本中找出 JSON 数组形式的动作列表，
// 元素形如 {"name": "click", "arguments": {...}}
func embeddedCalls(text string) []Call {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	arr := gjson.Parse(text[start : end+1])
	if !arr.IsArray() || !gjson.Valid(arr.Raw) {
		return nil
	}

	var calls []Call
	arr.ForEach(func(_, el gjson.Result) bool {
		if !el.IsObject() {
			return true
		}
		name := el.Get("name")
		if !name.Exists() {
			name = el.Get("action")
		}
		args := el.Get("arguments")
		if !args.Exists() {
			args = el.Get("args")
		}
		c := Call{Name: name.String(), Arguments: args.Raw}
		if args.Type == gjson.String {
			c.Arguments = args.Str
		}
		calls = append(calls, c)
		return true
	})
	return calls
}
