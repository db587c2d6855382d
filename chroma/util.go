package chroma

import (
	"image"

	"github.com/nfnt/resize"
)

// hasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// TransparentRatio 透明像素占比，用于日志和 CLI 输出
func TransparentRatio(img image.Image) float64 {
	n := toNRGBA(img)
	total := len(n.Pix) / 4
	if total == 0 || !hasUsefulAlpha(n) {
		return 0
	}
	transparent := 0
	for i := 3; i < len(n.Pix); i += 4 {
		if n.Pix[i] == 0 {
			transparent++
		}
	}
	return float64(transparent) / float64(total)
}

// ResizeWithinMax 缩放（最长边 <= maxSize），maxSize <= 0 表示不缩放
func ResizeWithinMax(img image.Image, maxSize int) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	return toNRGBA(resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3))
}
