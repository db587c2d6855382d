package rembg

import (
	"time"

	"github.com/chaos-io/bgcompare/replicate"
)

// ModelJob 单个模型在一次对比中的状态
type ModelJob struct {
	ModelID      string           `json:"modelId"`
	Name         string           `json:"name"`
	Status       replicate.Status `json:"status"`
	Output       []string         `json:"output,omitempty"`
	Error        string           `json:"error,omitempty"`
	PredictionID string           `json:"predictionId,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Terminal succeeded 或 failed
func (j ModelJob) Terminal() bool {
	return j.Status == replicate.StatusSucceeded || j.Status == replicate.StatusFailed
}

// Result 只有 succeeded 时 output 才可信
func (j ModelJob) Result() []string {
	if j.Status != replicate.StatusSucceeded {
		return nil
	}
	return j.Output
}

// First 第一张结果图，没有时为空
func (j ModelJob) First() string {
	if r := j.Result(); len(r) > 0 {
		return r[0]
	}
	return ""
}

func (j ModelJob) clone() ModelJob {
	j.Output = append([]string(nil), j.Output...)
	return j
}
