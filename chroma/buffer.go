package chroma

import (
	"image"

	"golang.org/x/image/draw"
)

// PixelBuffer 像素缓冲区的最小能力
type PixelBuffer interface {
	Width() int
	Height() int
	At(x, y int) RGBA
	Set(x, y int, c RGBA)
}

// NRGBABuffer 基于 *image.NRGBA 的 PixelBuffer，坐标从 (0,0) 开始
type NRGBABuffer struct {
	img *image.NRGBA
}

func NewBuffer(width, height int) *NRGBABuffer {
	return &NRGBABuffer{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// FromImage 复制一份图片到新的缓冲区，源图片不会被修改
func FromImage(src image.Image) *NRGBABuffer {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if n, ok := src.(*image.NRGBA); ok {
		// 逐行复制，像素值保持不变
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()*4], n.Pix[y*n.Stride:])
		}
		return &NRGBABuffer{img: dst}
	}
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &NRGBABuffer{img: dst}
}

func (b *NRGBABuffer) Width() int  { return b.img.Rect.Dx() }
func (b *NRGBABuffer) Height() int { return b.img.Rect.Dy() }

func (b *NRGBABuffer) At(x, y int) RGBA {
	i := b.img.PixOffset(x, y)
	p := b.img.Pix[i : i+4 : i+4]
	return RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
}

func (b *NRGBABuffer) Set(x, y int, c RGBA) {
	i := b.img.PixOffset(x, y)
	p := b.img.Pix[i : i+4 : i+4]
	p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
}

// Image 返回底层图片（不复制）
func (b *NRGBABuffer) Image() *image.NRGBA {
	return b.img
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
