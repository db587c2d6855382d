package rembg

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/bgcompare/replicate"
)

// Predictor 创建并轮询 prediction，*replicate.Client 实现了它
type Predictor interface {
	CreatePrediction(ctx context.Context, version string, input map[string]any) (*replicate.Prediction, error)
	PollPrediction(ctx context.Context, p *replicate.Prediction, onUpdate func(*replicate.Prediction)) (*replicate.Prediction, error)
}

// Recorder 记录每个模型的终态，nil 时忽略
type Recorder interface {
	ObserveJob(modelID string, status replicate.Status, elapsed time.Duration)
}

type Orchestrator struct {
	client   Predictor
	limit    int
	recorder Recorder
	now      func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithConcurrencyLimit 同时进行的模型数，<= 0 不限制
func WithConcurrencyLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.limit = n }
}

func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

func NewOrchestrator(client Predictor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{client: client, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAll 把同一张图并发发给所有模型，等全部到达终态后返回
// 每个模型的失败只记录在自己的 ModelJob 里，不影响其它模型
// onUpdate 会被多个 goroutine 并发调用；同一个模型的回调按轮询顺序到达
func (o *Orchestrator) RunAll(ctx context.Context, models []Model, image string, onUpdate func(ModelJob)) map[string]ModelJob {
	var (
		mu      sync.Mutex
		results = make(map[string]ModelJob, len(models))
	)

	emit := func(job ModelJob) {
		mu.Lock()
		results[job.ModelID] = job
		mu.Unlock()
		if onUpdate != nil {
			onUpdate(job.clone())
		}
	}

	g := new(errgroup.Group)
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if seen[m.ID] {
			slog.Warn("duplicate model in comparison, skipped", "model", m.ID)
			continue
		}
		seen[m.ID] = true

		g.Go(func() error {
			o.runOne(ctx, m, image, emit)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) runOne(ctx context.Context, m Model, image string, emit func(ModelJob)) {
	job := ModelJob{
		ModelID:   m.ID,
		Name:      m.Name,
		Status:    replicate.StatusStarting,
		StartedAt: o.now(),
	}
	job.UpdatedAt = job.StartedAt
	emit(job)

	fail := func(msg string) {
		job.Status = replicate.StatusFailed
		job.Output = nil
		job.Error = msg
		job.UpdatedAt = o.now()
		slog.Warn("model job failed", "model", m.ID, "prediction", job.PredictionID, "error", msg)
		o.observe(job)
		emit(job)
	}

	p, err := o.client.CreatePrediction(ctx, m.Version, m.Input(image))
	if err != nil {
		fail(err.Error())
		return
	}
	job.PredictionID = p.ID
	apply(&job, p, o.now())
	emit(job)

	final, err := o.client.PollPrediction(ctx, p, func(p *replicate.Prediction) {
		apply(&job, p, o.now())
		if !job.Terminal() {
			emit(job)
		}
	})
	if err != nil {
		fail(err.Error())
		return
	}

	apply(&job, final, o.now())
	if final.Err() != nil {
		// 上游报告的失败，优先展示它自己的错误信息
		msg := final.ErrorMessage()
		if msg == "" {
			msg = "prediction " + string(final.Status)
		}
		fail(msg)
		return
	}
	job.Status = replicate.StatusSucceeded
	slog.Info("model job succeeded", "model", m.ID, "prediction", job.PredictionID, "outputs", len(job.Output),
		"elapsed", job.UpdatedAt.Sub(job.StartedAt).Round(time.Millisecond))
	o.observe(job)
	emit(job)
}

// apply 把上游快照映射到 ModelJob；canceled 记为 failed
func apply(job *ModelJob, p *replicate.Prediction, now time.Time) {
	job.UpdatedAt = now
	switch p.Status {
	case replicate.StatusCanceled:
		job.Status = replicate.StatusFailed
	case "":
		job.Status = replicate.StatusStarting
	default:
		job.Status = p.Status
	}
	job.Output = p.Outputs()
	if msg := p.ErrorMessage(); msg != "" {
		job.Error = msg
	}
}

func (o *Orchestrator) observe(job ModelJob) {
	if o.recorder != nil {
		o.recorder.ObserveJob(job.ModelID, job.Status, job.UpdatedAt.Sub(job.StartedAt))
	}
}
