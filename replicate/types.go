package replicate

import (
	"encoding/json"
	"strings"
	"time"
)

// Status 上游 prediction 的状态
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal 终态之后不会再有状态变化；上游的 canceled 也算终态
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

// Prediction https://replicate.com/docs/reference/http#predictions.get
type Prediction struct {
	ID          string          `json:"id"`
	Version     string          `json:"version,omitempty"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Logs        string          `json:"logs,omitempty"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	URLs        struct {
		Get    string `json:"get,omitempty"`
		Cancel string `json:"cancel,omitempty"`
	} `json:"urls"`
}

// Outputs 把 output 统一成字符串列表：单个字符串、字符串数组或 null
func (p *Prediction) Outputs() []string {
	if p == nil || len(p.Output) == 0 || string(p.Output) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(p.Output, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		return many
	}
	return nil
}

// Text 文本模型的输出会被切成 token 数组，拼回一个字符串
func (p *Prediction) Text() string {
	return strings.Join(p.Outputs(), "")
}

// ErrorMessage 上游报告的错误信息
func (p *Prediction) ErrorMessage() string {
	if p == nil || len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var msg string
	if err := json.Unmarshal(p.Error, &msg); err == nil {
		return msg
	}
	return string(p.Error)
}

// Err 任务本身失败时返回 ErrJobFailed，成功或未结束返回 nil
func (p *Prediction) Err() error {
	if p == nil || (p.Status != StatusFailed && p.Status != StatusCanceled) {
		return nil
	}
	msg := p.ErrorMessage()
	if msg == "" {
		msg = "prediction " + string(p.Status)
	}
	return &Error{Kind: KindJobFailed, Body: msg}
}
