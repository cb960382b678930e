package interpreter

import (
	"context"
	"fmt"
	"net/http"

	"hncrawler/pkg/action"
)

// Oracle 外部语言模型，只提供建议，结果不可信
type Oracle interface {
	Suggest(ctx context.Context, req Request) (Suggestion, error)
}

// Request 发给语言模型的上下文
type Request struct {
	Text       string
	Vocabulary []action.Descriptor
	CurrentURL string
	// Page 当前页面的可交互元素，可能为空
	Page    PageMap
	History []Turn
}

// Turn 一轮历史指令及其解析出的动作
type Turn struct {
	Command string
	Actions []string
}

// Call 语言模型建议的一次函数调用，Arguments 为原始 JSON
type Call struct {
	Name      string
	Arguments string
}

// Suggestion 语言模型原始回复
type Suggestion struct {
	Calls []Call
	Text  string
}

// UnavailableError 语言模型不可达、超时或回复无法解析
type UnavailableError struct {
	Status int
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("语言模型不可用 (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("语言模型不可用: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable 网络错误、超时、限流和服务端错误可以重试；其余 4xx 重试无意义
func (e *UnavailableError) Retryable() bool {
	switch {
	case e.Status == 0, e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	}
	return e.Status >= http.StatusInternalServerError
}
