package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/chaos-io/bgcompare/replicate"
	"github.com/chaos-io/bgcompare/util"
)

// ImageFetcher 下载模型输出的结果图
type ImageFetcher func(ctx context.Context, url string) (image.Image, error)

// ReplicateRemover 用单个托管模型实现 Remover
type ReplicateRemover struct {
	client Predictor
	model  Model
	fetch  ImageFetcher
}

func NewReplicateRemover(client Predictor, model Model) *ReplicateRemover {
	return &ReplicateRemover{
		client: client,
		model:  model,
		fetch:  util.RemoteImage,
	}
}

// SetFetcher 替换结果图的下载方式（测试用）
func (r *ReplicateRemover) SetFetcher(f ImageFetcher) {
	if f != nil {
		r.fetch = f
	}
}

func (r *ReplicateRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	dataURI, err := util.EncodePNGDataURI(img)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	p, err := r.client.CreatePrediction(ctx, r.model.Version, r.model.Input(dataURI))
	if err != nil {
		return nil, fmt.Errorf("create prediction: %w", err)
	}

	final, err := r.client.PollPrediction(ctx, p, func(p *replicate.Prediction) {
		slog.Debug("remove background", "model", r.model.ID, "status", p.Status)
	})
	if err != nil {
		return nil, fmt.Errorf("poll prediction: %w", err)
	}
	if err := final.Err(); err != nil {
		return nil, err
	}

	outputs := final.Outputs()
	if len(outputs) == 0 {
		return nil, errors.New("prediction succeeded without output")
	}

	out, err := r.fetch(ctx, outputs[0])
	if err != nil {
		return nil, fmt.Errorf("fetch output: %w", err)
	}
	return out, nil
}
