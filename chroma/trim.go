package chroma

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
)

var ErrNoSubject = errors.New("no opaque subject found")

// SubjectBounds alpha > threshold*255 的像素当作主体，返回主体的 bounding box
// 坐标相对于 img.Bounds().Min
func SubjectBounds(img image.Image, threshold float64) (image.Rectangle, error) {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 0; x < w; x++ {
			if src.Pix[row+x*4+3] <= th {
				continue
			}
			found = true
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if !found {
		return image.Rectangle{}, ErrNoSubject
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

// Trim 裁掉主体四周的透明边
func Trim(img image.Image, threshold float64) (*image.NRGBA, error) {
	bbox, err := SubjectBounds(img, threshold)
	if err != nil {
		return nil, err
	}
	origin := img.Bounds().Min
	dst := image.NewNRGBA(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bbox.Min.Add(origin), draw.Src)
	return dst, nil
}

// Flatten 把透明结果合成到纯色底上，输出完全不透明
// 黑底时等价于预乘 alpha
func Flatten(img image.Image, bg Color) *image.NRGBA {
	src := toNRGBA(img)
	dst := image.NewNRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		si := y * src.Stride
		di := y * dst.Stride
		for x := 0; x < w; x++ {
			a := uint32(src.Pix[si+3])
			dst.Pix[di] = blend(src.Pix[si], bg.R, a)
			dst.Pix[di+1] = blend(src.Pix[si+1], bg.G, a)
			dst.Pix[di+2] = blend(src.Pix[si+2], bg.B, a)
			dst.Pix[di+3] = 255
			si += 4
			di += 4
		}
	}
	return dst
}

func blend(fg, bg uint8, a uint32) uint8 {
	return uint8((uint32(fg)*a + uint32(bg)*(255-a) + 127) / 255)
}
