// Package proxy 把 /replicate/* 透传到 Replicate API
package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const DefaultPrefix = "/replicate"

// TokenSource 请求没带 Authorization 时用来补 token，返回空串表示不补
type TokenSource func(r *http.Request) string

// Observer 记录每次转发的上游状态码，传输失败记为 500
type Observer interface {
	ObserveProxy(method string, status int)
}

type Proxy struct {
	target   *url.URL
	prefix   string
	token    TokenSource
	observer Observer
	rp       *httputil.ReverseProxy
}

type Option func(*Proxy)

func WithPrefix(prefix string) Option {
	return func(p *Proxy) { p.prefix = strings.TrimRight(prefix, "/") }
}

func WithTokenSource(fn TokenSource) Option {
	return func(p *Proxy) { p.token = fn }
}

func WithObserver(o Observer) Option {
	return func(p *Proxy) { p.observer = o }
}

// WithTransport 测试时替换上游连接
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.rp.Transport = rt }
}

func New(baseURL string, opts ...Option) (*Proxy, error) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse proxy target: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute url", baseURL)
	}

	p := &Proxy{target: target, prefix: DefaultPrefix}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// UpstreamPath /replicate/<rest> -> /v1/<rest>，rest 已经以 v1/ 开头时不再重复
func UpstreamPath(rest string) string {
	rest = strings.TrimLeft(rest, "/")
	if rest == "v1" || strings.HasPrefix(rest, "v1/") {
		return "/" + rest
	}
	return "/v1/" + rest
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	rest := strings.TrimPrefix(pr.In.URL.Path, p.prefix)

	out := pr.Out
	out.URL.Scheme = p.target.Scheme
	out.URL.Host = p.target.Host
	out.URL.Path = p.target.Path + UpstreamPath(rest)
	out.URL.RawPath = ""
	out.Host = ""

	out.Header.Del("Content-Length")
	if out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}
	if out.Header.Get("Authorization") == "" && p.token != nil {
		if tok := p.token(pr.In); tok != "" {
			out.Header.Set("Authorization", "Token "+tok)
		}
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	slog.Debug("proxy", "method", resp.Request.Method, "path", resp.Request.URL.Path, "status", resp.StatusCode)
	p.observe(resp.Request.Method, resp.StatusCode)
	return nil
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("proxy request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	p.observe(r.Method, http.StatusInternalServerError)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(gin.H{"error": "Proxy request failed", "details": err.Error()})
}

func (p *Proxy) observe(method string, status int) {
	if p.observer != nil {
		p.observer.ObserveProxy(method, status)
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// Handler 挂到 engine.Any(prefix+"/*path")
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.rp.ServeHTTP(c.Writer, c.Request)
	}
}
