// Package replicate 托管模型 API 的客户端：创建 prediction 并轮询到终态
package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	nhttp "github.com/chaos-io/bgcompare/util/http"
)

const (
	DefaultBaseURL      = "https://api.replicate.com"
	DefaultPollInterval = time.Second
)

var errPollDeadline = errors.New("poll deadline exceeded")

// PollConfig MaxAttempts 和 Deadline 为 0 表示不限制
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

type Client struct {
	cli     nhttp.IClient
	baseURL string
	token   string
	poll    PollConfig
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(cli nhttp.IClient) Option {
	return func(c *Client) {
		if cli != nil {
			c.cli = cli
		}
	}
}

func WithPollConfig(p PollConfig) Option {
	return func(c *Client) {
		if p.Interval <= 0 {
			p.Interval = DefaultPollInterval
		}
		c.poll = p
	}
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		cli:     nhttp.NewHTTPClient(),
		baseURL: DefaultBaseURL,
		token:   token,
		poll:    PollConfig{Interval: DefaultPollInterval},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken 复制一个使用不同 token 的客户端，其它配置共享
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Token " + c.token,
		"Content-Type":  "application/json",
	}
}

// CreatePrediction 发起一次创建请求；非 2xx 时返回 ErrCreation 并带上上游响应体
func (c *Client) CreatePrediction(ctx context.Context, version string, input map[string]any) (*Prediction, error) {
	reqParam := &nhttp.RequestParam{
		RequestURI: c.baseURL + "/v1/predictions",
		Method:     http.MethodPost,
		Header:     c.headers(),
		Body:       createRequest{Version: version, Input: input},
		Response:   &Prediction{},
	}
	if err := c.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrapError(KindCreation, err)
	}

	p := reqParam.Response.(*Prediction)
	slog.Debug("prediction created", "id", p.ID, "version", version, "status", p.Status)
	return p, nil
}

// GetPrediction 查询一次状态
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	reqParam := &nhttp.RequestParam{
		RequestURI: c.baseURL + "/v1/predictions/" + url.PathEscape(id),
		Method:     http.MethodGet,
		Header:     map[string]string{"Authorization": "Token " + c.token},
		Response:   &Prediction{},
	}
	if err := c.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, err
	}
	return reqParam.Response.(*Prediction), nil
}

// PollPrediction 固定间隔轮询直到 succeeded/failed，每个中间快照都回调 onUpdate
// 任务失败是正常终态，返回的 error 为 nil；查询请求失败返回 ErrPoll
// 超过 MaxAttempts 或 Deadline 返回 ErrTimeout，ctx 取消返回 ctx.Err()
func (c *Client) PollPrediction(ctx context.Context, p *Prediction, onUpdate func(*Prediction)) (*Prediction, error) {
	if p == nil {
		return nil, errors.New("prediction is nil")
	}

	pollCtx := ctx
	if c.poll.Deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeoutCause(ctx, c.poll.Deadline, errPollDeadline)
		defer cancel()
	}

	timer := time.NewTimer(c.poll.Interval)
	defer timer.Stop()

	for attempt := 1; !p.Status.Terminal(); attempt++ {
		if c.poll.MaxAttempts > 0 && attempt > c.poll.MaxAttempts {
			return p, &Error{Kind: KindTimeout, Body: fmt.Sprintf("prediction %s still %s after %d attempts", p.ID, p.Status, c.poll.MaxAttempts)}
		}

		select {
		case <-pollCtx.Done():
			return p, c.doneError(ctx, pollCtx, p)
		case <-timer.C:
		}

		next, err := c.GetPrediction(pollCtx, p.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return p, c.doneError(ctx, pollCtx, p)
			}
			return p, wrapError(KindPoll, err)
		}
		p = next

		slog.Debug("prediction polled", "id", p.ID, "status", p.Status, "attempt", attempt)
		if onUpdate != nil {
			onUpdate(p)
		}
		timer.Reset(c.poll.Interval)
	}
	return p, nil
}

func (c *Client) doneError(parent, pollCtx context.Context, p *Prediction) error {
	if parent.Err() == nil && errors.Is(context.Cause(pollCtx), errPollDeadline) {
		return &Error{Kind: KindTimeout, Body: fmt.Sprintf("prediction %s still %s after %s", p.ID, p.Status, c.poll.Deadline), Err: context.DeadlineExceeded}
	}
	if errors.Is(parent.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Body: fmt.Sprintf("prediction %s: %v", p.ID, parent.Err()), Err: parent.Err()}
	}
	if err := parent.Err(); err != nil {
		return err
	}
	return pollCtx.Err()
}

// Run 创建并轮询到终态
func (c *Client) Run(ctx context.Context, version string, input map[string]any, onUpdate func(*Prediction)) (*Prediction, error) {
	p, err := c.CreatePrediction(ctx, version, input)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		onUpdate(p)
	}
	return c.PollPrediction(ctx, p, onUpdate)
}

func wrapError(kind Kind, err error) error {
	var statusErr *nhttp.StatusError
	if errors.As(err, &statusErr) {
		return &Error{Kind: kind, StatusCode: statusErr.StatusCode, Body: statusErr.Body, Err: err}
	}
	return &Error{Kind: kind, Err: err}
}
