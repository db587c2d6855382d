package store

import (
	"context"
	"errors"
	"strings"
)

// Settings 用户自己的 Replicate token
type Settings struct {
	kv KeyValueStore
}

func NewSettings(kv KeyValueStore) *Settings {
	return &Settings{kv: kv}
}

// APIToken 没有保存时返回空串
func (s *Settings) APIToken(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, APITokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *Settings) SetAPIToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.ClearAPIToken(ctx)
	}
	return s.kv.Set(ctx, APITokenKey, []byte(token))
}

func (s *Settings) ClearAPIToken(ctx context.Context) error {
	return s.kv.Delete(ctx, APITokenKey)
}

// ResolveToken 请求里的 > 保存的 > 服务端配置的
func (s *Settings) ResolveToken(ctx context.Context, request, server string) (string, error) {
	if request = strings.TrimSpace(request); request != "" {
		return request, nil
	}
	stored, err := s.APIToken(ctx)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}
	return server, nil
}
