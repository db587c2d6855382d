package rembg

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/chaos-io/bgcompare/replicate"
)

type behavior struct {
	createErr error
	statuses  []replicate.Status
	output    []string
	jobError  string
	pollErr   error
	block     bool
}

type fakePredictor struct {
	mu        sync.Mutex
	behaviors map[string]behavior
	inputs    map[string]map[string]any

	inflight    atomic.Int32
	maxInflight atomic.Int32
	// barrier > 0 时 poll 先等到曾经有这么多任务同时在跑
	barrier int32
}

func newFakePredictor(b map[string]behavior) *fakePredictor {
	return &fakePredictor{behaviors: b, inputs: map[string]map[string]any{}}
}

func (f *fakePredictor) CreatePrediction(ctx context.Context, version string, input map[string]any) (*replicate.Prediction, error) {
	f.mu.Lock()
	b := f.behaviors[version]
	f.inputs[version] = input
	f.mu.Unlock()

	if b.createErr != nil {
		return nil, b.createErr
	}
	n := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	return &replicate.Prediction{ID: "pred-" + version, Status: replicate.StatusStarting}, nil
}

func (f *fakePredictor) PollPrediction(ctx context.Context, p *replicate.Prediction, onUpdate func(*replicate.Prediction)) (*replicate.Prediction, error) {
	defer f.inflight.Add(-1)

	version := p.ID[len("pred-"):]
	f.mu.Lock()
	b := f.behaviors[version]
	f.mu.Unlock()

	for f.barrier > 0 && f.maxInflight.Load() < f.barrier {
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		default:
			runtime.Gosched()
		}
	}

	cur := *p
	for _, st := range b.statuses {
		if err := ctx.Err(); err != nil {
			return &cur, err
		}
		cur.Status = st
		if st == replicate.StatusSucceeded {
			out, _ := json.Marshal(b.output)
			cur.Output = out
		}
		if st == replicate.StatusFailed && b.jobError != "" {
			msg, _ := json.Marshal(b.jobError)
			cur.Error = msg
		}
		snap := cur
		onUpdate(&snap)
	}

	if b.block {
		<-ctx.Done()
		return &cur, ctx.Err()
	}
	if b.pollErr != nil {
		return &cur, b.pollErr
	}
	return &cur, nil
}
