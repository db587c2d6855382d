package replicate

import (
	"fmt"
)

type Kind string

const (
	// KindCreation 任务无法创建：key 错误、额度、输入不合法
	KindCreation Kind = "creation"
	// KindPoll 状态查询请求本身失败
	KindPoll Kind = "poll"
	// KindJobFailed 上游明确报告任务失败，不是传输错误
	KindJobFailed Kind = "job_failed"
	// KindTimeout 超过最大轮询次数或截止时间
	KindTimeout Kind = "timeout"
)

var (
	ErrCreation  = &Error{Kind: KindCreation}
	ErrPoll      = &Error{Kind: KindPoll}
	ErrJobFailed = &Error{Kind: KindJobFailed}
	ErrTimeout   = &Error{Kind: KindTimeout}
)

type Error struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("replicate %s error (status %d): %s", e.Kind, e.StatusCode, e.Body)
	case e.Body != "":
		return fmt.Sprintf("replicate %s error: %s", e.Kind, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("replicate %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("replicate %s error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误即匹配，便于 errors.Is(err, ErrTimeout)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
