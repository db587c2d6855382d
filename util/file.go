package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// maxDownloadSize 远程图片的最大字节数
const maxDownloadSize = 50 << 20

var (
	ErrUnsupportedSource = errors.New("image source must be a data URI or an http(s) URL")
	ErrImageTooLarge     = errors.New("image too large")
)

// RemoteImage 只接受 data URI 和 http(s) 地址，不读本地文件
func RemoteImage(ctx context.Context, src string) (image.Image, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		img, _, err := DecodeDataURI(src)
		return img, err
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return DownloadImage(ctx, src)
	default:
		return nil, ErrUnsupportedSource
	}
}

// LoadImage 在 RemoteImage 的基础上允许本地路径，命令行用
func LoadImage(ctx context.Context, src string) (image.Image, error) {
	img, err := RemoteImage(ctx, src)
	if errors.Is(err, ErrUnsupportedSource) {
		return OpenImage(src)
	}
	return img, err
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status code %d", resp.StatusCode)
	}

	imgData, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(imgData) > maxDownloadSize {
		return nil, fmt.Errorf("download image: %w (over %d bytes)", ErrImageTooLarge, maxDownloadSize)
	}

	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	return img, err
}

// ReadDataURI 读取本地文件并编码为 data URI
func ReadDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(http.DetectContentType(data), data), nil
}
