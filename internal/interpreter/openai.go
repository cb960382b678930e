package interpreter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hncrawler/internal/logger"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	chatPath     = "/v1/chat/completions"
	maxReplySize = 4 << 20
)

const systemPrompt = "You are a browser automation assistant. Interpret commands and translate them " +
	"into appropriate browser actions using only the available tools. Use standard CSS selectors. " +
	"If a command cannot be expressed with the tools, reply with a short explanation and no tool calls."

// OpenAIOptions OpenAI 兼容接口配置
type OpenAIOptions struct {
	BaseURL string
	Model   string
	APIKey  string
	Client  *http.Client
}

// OpenAI 通过 chat completions 函数调用获取动作建议
type OpenAI struct {
	opts OpenAIOptions
	log  logger.Logger
}

// NewOpenAI 创建 OpenAI 兼容语言模型客户端
func NewOpenAI(opts OpenAIOptions, l logger.Logger) *OpenAI {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &OpenAI{opts: opts, log: l}
}

// Suggest 发送一次 chat completions 请求
func (o *OpenAI) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	payload, err := o.buildBody(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("构造请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+chatPath, bytes.NewReader(payload))
	if err != nil {
		return Suggestion{}, &UnavailableError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.opts.Client.Do(httpReq)
	if err != nil {
		return Suggestion{}, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return Suggestion{}, &UnavailableError{Status: resp.StatusCode, Err: err}
	}
	o.log.Debug("语言模型已响应", "status", resp.StatusCode, "duration", time.Since(start), "bytes", len(body))

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Suggestion{}, &UnavailableError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
	return parseReply(body)
}

func (o *OpenAI) buildBody(req Request) ([]byte, error) {
	body := []byte(`{"messages":[],"tools":[],"tool_choice":"auto"}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}

	set("model", o.opts.Model)
	prompt := systemPrompt
	if req.CurrentURL != "" {
		prompt += "\nThe browser is currently at " + req.CurrentURL
	}
	set("messages.-1", map[string]string{"role": "system", "content": prompt})
	for _, t := range req.History {
		set("messages.-1", map[string]string{"role": "user", "content": t.Command})
		reply := "No actions."
		if len(t.Actions) > 0 {
			reply = "Actions: " + strings.Join(t.Actions, ", ")
		}
		set("messages.-1", map[string]string{"role": "assistant", "content": reply})
	}
	if !req.Page.IsZero() {
		elements, perr := sjson.Set(`{}`, "elements", req.Page.Elements)
		if perr != nil {
			return nil, perr
		}
		content := fmt.Sprintf("Interactable elements on %s (title %q), in document order. "+
			"Prefer these selectors for click and extract:\n%s", req.Page.URL, req.Page.Title, gjson.Get(elements, "elements").Raw)
		set("messages.-1", map[string]string{"role": "system", "content": content})
	}
	set("messages.-1", map[string]string{"role": "user", "content": req.Text})

	for _, s := range req.Vocabulary {
		set("tools.-1", map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	return body, err
}

// parseReply 宽松解析回复：读取第一个 choice 的 tool_calls 和 content
func parseReply(body []byte) (Suggestion, error) {
	if !gjson.ValidBytes(body) {
		return Suggestion{}, &UnavailableError{Err: errors.New("回复不是合法 JSON")}
	}
	msg := gjson.GetBytes(body, "choices.0.message")
	if !msg.Exists() {
		return Suggestion{}, &UnavailableError{Err: errors.New("回复缺少 choices")}
	}

	s := Suggestion{Text: msg.Get("content").String()}
	msg.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		args := tc.Get("function.arguments")
		raw := args.String()
		if args.IsObject() {
			raw = args.Raw
		}
		s.Calls = append(s.Calls, Call{Name: tc.Get("function.name").String(), Arguments: raw})
		return true
	})
	return s, nil
}
