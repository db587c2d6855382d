// Package rembg 背景去除：托管模型注册表、多模型对比和远程 Remover
package rembg

import (
	"context"
	"image"
)

// Remover 输入一张图，输出去掉背景（alpha=0）的图
type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}
