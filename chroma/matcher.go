// Package chroma 手动抠图：按参考色和容差把背景像素变透明
package chroma

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	MinTolerance     = 0
	MaxTolerance     = 200
	DefaultTolerance = 30
)

// Color 参考色，只有 RGB
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c Color) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Hex 返回 RRGGBB
func (c Color) Hex() string {
	return hex.EncodeToString([]byte{c.R, c.G, c.B})
}

// RGBA 非预乘的像素值
type RGBA struct {
	R, G, B, A uint8
}

// Matches 判断像素是否属于背景：RGB 欧氏距离严格小于 tolerance，alpha 不参与
// 用整数平方比较，避免 sqrt 在边界上的误差
func Matches(p RGBA, ref Color, tolerance int) bool {
	if tolerance <= 0 {
		return false
	}
	dr := int(p.R) - int(ref.R)
	dg := int(p.G) - int(ref.G)
	db := int(p.B) - int(ref.B)
	return dr*dr+dg*dg+db*db < tolerance*tolerance
}

func ValidateTolerance(tolerance int) error {
	if tolerance < MinTolerance || tolerance > MaxTolerance {
		return fmt.Errorf("tolerance must be between %d and %d, got %d", MinTolerance, MaxTolerance, tolerance)
	}
	return nil
}

// ParseHexColor 解析 "00ff00" 或 "#00ff00"
func ParseHexColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Color{}, fmt.Errorf("color %q: %w", s, err)
	}
	return Color{R: b[0], G: b[1], B: b[2]}, nil
}
