package chroma

import (
	"context"
	"image"
	"log/slog"
)

// PickReference 把显示坐标按比例映射到原图分辨率，取该像素的颜色
// nativeX = clickX / displayWidth * width，Y 同理；越界时返回 false
func PickReference(buf PixelBuffer, clickX, clickY, displayWidth, displayHeight float64) (Color, bool) {
	if displayWidth <= 0 || displayHeight <= 0 {
		slog.Warn("pick reference: invalid display size", "width", displayWidth, "height", displayHeight)
		return Color{}, false
	}

	// 和 canvas getImageData 一样向零取整
	x := int(clickX / displayWidth * float64(buf.Width()))
	y := int(clickY / displayHeight * float64(buf.Height()))
	if clickX < 0 || clickY < 0 || x >= buf.Width() || y >= buf.Height() {
		slog.Warn("pick reference: out of bounds", "x", x, "y", y, "width", buf.Width(), "height", buf.Height())
		return Color{}, false
	}

	p := buf.At(x, y)
	return Color{R: p.R, G: p.G, B: p.B}, true
}

// Apply 分配同尺寸的新缓冲区，复制所有通道，匹配的像素 alpha 置 0
// 硬切边，没有羽化；源缓冲区不变
func Apply(src PixelBuffer, ref Color, tolerance int) *NRGBABuffer {
	w, h := src.Width(), src.Height()
	dst := NewBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := src.At(x, y)
			if Matches(p, ref, tolerance) {
				p.A = 0
			}
			dst.Set(x, y, p)
		}
	}
	return dst
}

// ApplyImage 对 image.Image 做同样的处理，直接在 Pix 上循环
func ApplyImage(img image.Image, ref Color, tolerance int) *image.NRGBA {
	src := toNRGBA(img)
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		drow := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		copy(drow, srow)
		for i := 0; i < len(drow); i += 4 {
			p := RGBA{R: drow[i], G: drow[i+1], B: drow[i+2], A: drow[i+3]}
			if Matches(p, ref, tolerance) {
				drow[i+3] = 0
			}
		}
	}
	return out
}

// ColorRemover 本地的 Remover 实现
type ColorRemover struct {
	Reference Color
	Tolerance int
	// MaxDimension > 0 时先把大图缩小
	MaxDimension int
}

func NewColorRemover(ref Color, tolerance int) *ColorRemover {
	return &ColorRemover{Reference: ref, Tolerance: tolerance}
}

func (c *ColorRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateTolerance(c.Tolerance); err != nil {
		return nil, err
	}

	img = ResizeWithinMax(img, c.MaxDimension)
	out := ApplyImage(img, c.Reference, c.Tolerance)

	slog.Debug("manual removal done",
		"color", c.Reference.String(),
		"tolerance", c.Tolerance,
		"transparent", TransparentRatio(out))
	return out, nil
}
