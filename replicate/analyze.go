package replicate

import (
	"context"
	"errors"
	"log/slog"
)

const (
	// AnalysisVersion llava-13b
	AnalysisVersion   = "2facb4a474a0462c15041b78b1ad70952ea46b5ec6ad29583c0b29dbd4249591"
	AnalysisMaxTokens = 500
)

const analysisPrompt = `Analyze this image for background removal purposes. Provide:

**Subject**: What's the main subject?
**Style**: Photo/cartoon/illustration/3D?
**Background**: Simple/complex/gradient/textured?
**Details**: Hair, fur, transparency, glow effects?
**Challenges**: What makes BG removal difficult?
**Recommended Category**: Portrait/E-commerce/Cartoon/Animals/Complex/Fine-Details/VFX/Transparent/Challenging

Keep under 150 words, be concise and specific.`

type AnalyzeOptions struct {
	Version   string
	MaxTokens int
}

// Analyze 用视觉模型描述图片，给出抠图难点和推荐分类
func (c *Client) Analyze(ctx context.Context, imageURL string, opts AnalyzeOptions) (string, error) {
	if imageURL == "" {
		return "", errors.New("image url is empty")
	}
	if opts.Version == "" {
		opts.Version = AnalysisVersion
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = AnalysisMaxTokens
	}

	input := map[string]any{
		"image":      imageURL,
		"prompt":     analysisPrompt,
		"max_tokens": opts.MaxTokens,
	}
	p, err := c.Run(ctx, opts.Version, input, nil)
	if err != nil {
		return "", err
	}
	if err := p.Err(); err != nil {
		slog.Warn("image analysis failed", "id", p.ID, "error", p.ErrorMessage())
		return "", err
	}
	return p.Text(), nil
}
