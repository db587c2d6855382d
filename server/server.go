// Package server HTTP 服务：配置、图片分析、会话、记录、Replicate 代理和静态页面
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/bgcompare/config"
	"github.com/chaos-io/bgcompare/metrics"
	"github.com/chaos-io/bgcompare/proxy"
	"github.com/chaos-io/bgcompare/rembg"
	"github.com/chaos-io/bgcompare/replicate"
	"github.com/chaos-io/bgcompare/store"
	nhttp "github.com/chaos-io/bgcompare/util/http"
)

type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	client   *replicate.Client
	models   *rembg.Registry
	records  *store.RecordStore
	settings *store.Settings
	sessions *sessionRegistry
	metrics  *metrics.Metrics
	proxy    *proxy.Proxy
	cron     *cron.Cron

	// 后台对比任务挂在 baseCtx 上，Close 时统一取消
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

// New kv 由调用方打开和关闭
func New(cfg *config.Config, kv store.KeyValueStore, m *metrics.Metrics) (*Server, error) {
	models, err := rembg.NewRegistry(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("model registry: %w", err)
	}
	if m == nil {
		if m, err = metrics.New(); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	s := &Server{
		cfg: cfg,
		client: replicate.NewClient(cfg.Replicate.APIKey,
			replicate.WithBaseURL(cfg.Replicate.BaseURL),
			replicate.WithHTTPClient(nhttp.NewHTTPClient(nhttp.WithTimeout(cfg.Replicate.RequestTimeout))),
			replicate.WithPollConfig(cfg.ReplicatePoll()),
		),
		models:   models,
		records:  store.NewRecordStore(kv),
		settings: store.NewSettings(kv),
		sessions: newSessionRegistry(cfg.Sessions.TTL),
		metrics:  m,
		cron:     cron.New(),
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	s.proxy, err = proxy.New(cfg.Replicate.BaseURL,
		proxy.WithObserver(m),
		proxy.WithTokenSource(func(r *http.Request) string {
			tok, _ := s.settings.ResolveToken(r.Context(), "", cfg.Replicate.APIKey)
			return tok
		}),
	)
	if err != nil {
		return nil, err
	}

	if _, err := s.cron.AddFunc(cfg.Sessions.Sweep, s.sessions.sweep); err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}

	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start 启动会话清理
func (s *Server) Start() {
	s.cron.Start()
}

// Close 取消进行中的对比并等待它们退出
func (s *Server) Close() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.runs.Wait()
}

// Run 监听直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Start()
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr, "server_key", s.cfg.HasServerKey())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
