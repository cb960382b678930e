package browser

import (
	"errors"
	"fmt"
	"time"

	"hncrawler/pkg/action"
)

// ConnectionError 调试端点不可达或握手失败
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("无法连接浏览器调试端点 %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SessionLostError 协议连接断开，会话不可再用，需要重新打开
type SessionLostError struct {
	SessionID string
	Err       error
}

func (e *SessionLostError) Error() string {
	return fmt.Sprintf("会话 %s 已断开: %v", e.SessionID, e.Err)
}

func (e *SessionLostError) Unwrap() error { return e.Err }

// ActionTimeoutError 动作在超时前未完成，会话仍保持连接
type ActionTimeoutError struct {
	Action  action.Action
	Seq     uint64
	Timeout time.Duration
	Reason  string
}

func (e *ActionTimeoutError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("动作 #%d %s 超时 (%s): %s", e.Seq, e.Action, e.Timeout, e.Reason)
	}
	return fmt.Sprintf("动作 #%d %s 超时 (%s)", e.Seq, e.Action, e.Timeout)
}

var errSessionClosed = errors.New("会话已关闭")

// IsSessionFailure 判断是否为需要重新打开会话的错误
func IsSessionFailure(err error) bool {
	var lost *SessionLostError
	var conn *ConnectionError
	return errors.As(err, &lost) || errors.As(err, &conn)
}
